package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sly67/projconv/internal/client"
	"github.com/sly67/projconv/internal/config"
	"github.com/sly67/projconv/internal/logging"
	"github.com/sly67/projconv/internal/metrics"
	"github.com/sly67/projconv/internal/selection"
	"github.com/sly67/projconv/internal/session"
	"github.com/sly67/projconv/internal/storage"
)

// tokenMargin refuses tokens that would expire during a typical job.
const tokenMargin = time.Minute

type convertOptions struct {
	from        string
	to          string
	out         string
	storage     string
	metricsAddr string
	noDownload  bool
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	opts := &convertOptions{}

	cmd := &cobra.Command{
		Use:   "convert <path>",
		Short: "Convert a project folder or zip archive",
		Long: `Upload a folder or a single zip archive to the conversion service,
follow the job's progress and store the converted project.

A directory is uploaded file by file with its relative paths. A single file
must be a .zip archive and is uploaded as is; other single files are
rejected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, cfg); err != nil {
				return err
			}
			return runConvert(cmd.Context(), cfg, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.from, "from", "", "Source language (default from config)")
	flags.StringVar(&opts.to, "to", "", "Target language (default from config)")
	flags.StringVarP(&opts.out, "out", "o", "", "Directory for the converted project (local storage)")
	flags.StringVar(&opts.storage, "storage", "", "Result storage backend (local, s3)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	flags.BoolVar(&opts.noDownload, "no-download", false, "Do not download the converted project")
	return cmd
}

// apply merges flags into cfg. Flags win over the config file and environment.
func (o *convertOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	if o.from == "" {
		o.from = cfg.SourceLang
	}
	if o.to == "" {
		o.to = cfg.TargetLang
	}
	if cmd.Flags().Changed("out") {
		cfg.DownloadDir = o.out
	}
	if cmd.Flags().Changed("storage") {
		cfg.StorageBackend = o.storage
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}
	return cfg.Validate()
}

func runConvert(parent context.Context, cfg *config.Config, opts *convertOptions, path string) error {
	if err := client.CheckToken(cfg.AuthToken, tokenMargin); err != nil {
		return fmt.Errorf("%w; obtain a new token", err)
	}

	raw, err := selection.FromPath(path)
	if err != nil {
		return err
	}

	cl, err := client.New(client.Config{
		BaseURL:   cfg.ServerURL,
		Timeout:   time.Duration(cfg.RequestTimeout),
		AuthToken: cfg.AuthToken,
	})
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveHTTP(gctx, "metrics server", cfg.MetricsAddr, metrics.Handler(), nil)
		})
	}
	g.Go(func() error {
		defer cancel()
		return convertProject(gctx, cfg, opts, cl, raw)
	})
	return g.Wait()
}

func convertProject(ctx context.Context, cfg *config.Config, opts *convertOptions, cl *client.Client, raw selection.RawInput) error {
	view := newTerminalView(os.Stdout)
	ctrl := session.New(session.Config{}, cl, view)
	defer ctrl.Close()

	log := logging.WithContext(logging.WithSession(ctx, ctrl.ID()))

	if err := ctrl.SelectFiles(raw); err != nil {
		return err
	}
	snap := ctrl.Snapshot()
	fmt.Printf("%s upload: %d files, %s\n", snap.Kind, snap.FileCount, humanize.IBytes(uint64(snap.TotalBytes)))

	if err := ctrl.Submit(ctx, opts.from, opts.to); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		log.Info("conversion interrupted")
		return ctx.Err()
	case phase := <-view.Done():
		if phase == session.PhaseFailed {
			return errors.New(view.LastError())
		}
	}

	if table := manifestTable(view.Final().Manifest); table != "" {
		fmt.Println(table)
	}
	if opts.noDownload {
		return nil
	}

	sink, err := storage.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Warn("close result storage", zap.Error(err))
		}
	}()

	_, err = ctrl.Download(ctx, sink)
	return err
}
