package cli

import (
	"fmt"
	"io"

	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "concierge",
		Short: "Concierge: tour catalog chat assistant",
		Long: "Concierge answers visitor questions about a tour catalog over HTTP and WebSocket,\n" +
			"and records response latency and customer satisfaction ratings.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			level := logLevel
			if level == "" {
				level = "info"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.concierge/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newMessageCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return err
	}
	return nil
}

// loadConfig reads and validates the config file, then rebuilds the logger
// from its logging section. --log-level wins over the file.
func loadConfig() (config.Config, io.Closer, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, nil, fmt.Errorf("loading config %s: %w", paths.Config, err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, nil, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}

	l, closer, err := logging.NewWithOptions(logging.Options{
		Level: cfg.Logging.Level,
		Style: cfg.Logging.ConsoleStyle,
		File:  cfg.Logging.File,
	})
	if err != nil {
		return cfg, nil, err
	}
	log = l
	return cfg, closer, nil
}
