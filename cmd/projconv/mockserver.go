package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sly67/projconv/internal/logging"
	"github.com/sly67/projconv/internal/metrics"
	"github.com/sly67/projconv/internal/mockserver"
)

func newMockServerCommand(ctx *commandContext) *cobra.Command {
	var (
		addr        string
		stepDelay   time.Duration
		failAt      int
		resultTTL   time.Duration
		sync        bool
		maxUpload   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run a local fake conversion service",
		Long: `Run a fake conversion service that speaks the same HTTP protocol as the
real one. Files are "converted" by renaming them and prefixing a comment,
with a configurable delay per file, so the whole client flow can be tried
without a model backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			limit, err := humanize.ParseBytes(maxUpload)
			if err != nil {
				return fmt.Errorf("invalid --max-upload: %w", err)
			}

			srv := mockserver.New(mockserver.Options{
				StepDelay:     stepDelay,
				FailAt:        failAt,
				SyncManifest:  sync,
				MaxUploadSize: int64(limit),
				ResultTTL:     resultTTL,
			})
			logging.Info("mock conversion server configured",
				zap.Duration("step_delay", stepDelay),
				zap.Int("fail_at", failAt),
				zap.Bool("sync", sync),
				zap.Duration("result_ttl", resultTTL),
				zap.String("max_upload", humanize.IBytes(limit)))

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(sigCtx)
			g.Go(func() error {
				return serveHTTP(gctx, "mock server", addr, srv.Handler(), srv.Close)
			})
			if cfg.MetricsAddr != "" {
				g.Go(func() error {
					return serveHTTP(gctx, "metrics server", cfg.MetricsAddr, metrics.Handler(), nil)
				})
			}
			err = g.Wait()
			srv.Close()
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", ":5000", "Listen address")
	flags.DurationVar(&stepDelay, "step-delay", 500*time.Millisecond, "Delay before each converted file")
	flags.IntVar(&failAt, "fail-at", 0, "Fail the job at this file (1-based, 0 never fails)")
	flags.BoolVar(&sync, "sync", false, "Convert before answering and return the manifest in the response")
	flags.DurationVar(&resultTTL, "result-ttl", mockserver.DefaultResultTTL, "How long finished jobs stay downloadable")
	flags.StringVar(&maxUpload, "max-upload", humanize.IBytes(mockserver.DefaultMaxUploadSize), "Largest accepted upload")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}
