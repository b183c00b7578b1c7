package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sly67/projconv/internal/config"
	"github.com/sly67/projconv/internal/logging"
)

type commandContext struct {
	configFlag    string
	serverFlag    string
	tokenFlag     string
	logLevelFlag  string
	logFormatFlag string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

// ensureConfig loads the configuration once, applies global flag overrides
// and initializes logging.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if c.serverFlag != "" {
			cfg.ServerURL = c.serverFlag
		}
		if c.tokenFlag != "" {
			cfg.AuthToken = c.tokenFlag
		}
		if c.logLevelFlag != "" {
			cfg.LogLevel = c.logLevelFlag
		}
		if c.logFormatFlag != "" {
			cfg.LogFormat = c.logFormatFlag
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}

		if err := logging.Init(logging.Config{
			Level:      cfg.LogLevel,
			Format:     cfg.LogFormat,
			OutputPath: "stderr",
		}); err != nil {
			c.configErr = err
			return
		}
		logging.Debug("configuration loaded",
			zap.String("server", cfg.ServerURL),
			zap.String("storage", cfg.StorageBackend))
		c.config = cfg
	})
	return c.config, c.configErr
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	root := &cobra.Command{
		Use:           "projconv",
		Short:         "Convert whole projects between programming languages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logging.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&ctx.configFlag, "config", "c", "", "Path to configuration file (TOML)")
	flags.StringVar(&ctx.serverFlag, "server", "", "Conversion service URL")
	flags.StringVar(&ctx.tokenFlag, "token", "", "Bearer token for the conversion service")
	flags.StringVar(&ctx.logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&ctx.logFormatFlag, "log-format", "", "Log format (console, json)")

	root.AddCommand(newConvertCommand(ctx))
	root.AddCommand(newTreeCommand(ctx))
	root.AddCommand(newMockServerCommand(ctx))
	return root
}
