package worker

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/benchkit/qps-worker/internal/logging"
)

// CLIConfig allows developers to customize their own benchmark worker
// binary.
type CLIConfig struct {
	AppName      string
	AppShortDesc string
	AppLongDesc  string
}

var flagVerbose bool

func buildCLI(cli *CLIConfig, logger logging.Logger) *cobra.Command {
	cobra.OnInitialize(func() { initLogLevel(logger) })
	var cfg WorkerConfig
	rootCmd := &cobra.Command{
		Use:   cli.AppName,
		Short: cli.AppShortDesc,
		Long:  cli.AppLongDesc,
		Run: func(cmd *cobra.Command, args []string) {
			logger.Debug(fmt.Sprintf("Configuration: %s", cfg.ToJSON()))
			svc, err := NewService(&cfg)
			if err != nil {
				logger.Error(err.Error())
				os.Exit(1)
			}
			if err := svc.Run(); err != nil {
				os.Exit(1)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfg.BindAddr, "bind", "localhost:10000", "A host:port combination on which to listen for driver connections")
	rootCmd.PersistentFlags().StringVar(&cfg.ID, "id", "", "An optional unique ID for this worker. Will show up in logs. If not specified, a UUID will be generated.")
	rootCmd.PersistentFlags().StringVar(&cfg.ProfileDir, "profile-dir", "", "A directory in which to write per-session CPU profiles. Profiling is disabled if not specified.")
	rootCmd.PersistentFlags().StringVar(&cfg.AuthUsername, "auth-username", "", "If specified, drivers must authenticate with HTTP basic auth using this username")
	rootCmd.PersistentFlags().StringVar(&cfg.AuthPasswordHash, "auth-password-hash", "", "The bcrypt hash of the driver password, required when --auth-username is set")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Increase output logging verbosity to DEBUG level")
	return rootCmd
}

func initLogLevel(logger logging.Logger) {
	if flagVerbose {
		logrus.SetLevel(logrus.DebugLevel)
		logger.Debug("Set logging level to DEBUG")
	}
}

// Run must be executed from your `main` function in your Go code. This can
// be used to fast-track the construction of your own benchmark worker
// binary.
func Run(cli *CLIConfig) {
	logger := logging.NewLogrusLogger("main")
	if err := buildCLI(cli, logger).Execute(); err != nil {
		logger.Error("Error", "err", err)
	}
}

func trapInterrupts(onKill func(), logger logging.Logger) chan struct{} {
	sigc := make(chan os.Signal, 1)
	cancelTrap := make(chan struct{})
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigc:
			logger.Info("Caught kill signal")
			onKill()
		case <-cancelTrap:
			return
		}
	}()
	return cancelTrap
}
