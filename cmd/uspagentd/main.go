// uspagentd is the USP agent daemon: it loads configuration from a YAML
// file (and environment overrides), wires up internal/agent.Agent, and
// runs until interrupted.
//
// Usage:
//
//	uspagentd --config /etc/uspagentd/config.yaml
//	uspagentd --db-path /var/lib/uspagentd/state.db --admin-socket-path /run/uspagentd/admin.sock
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeeves-cluster-organization/uspagent/internal/agent"
	"github.com/jeeves-cluster-organization/uspagent/internal/config"
	"github.com/jeeves-cluster-organization/uspagent/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uspagentd",
		Short: "TR-369 User Services Platform agent daemon",
		RunE:  runDaemon,
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cmd.Flags().String("db-path", "", "path to the agent's bbolt state database")
	cmd.Flags().String("db-secure-key", "", "key used to obfuscate secure parameters at rest")
	cmd.Flags().String("admin-socket-path", "", "Unix socket path for the local admin gRPC surface")
	cmd.Flags().String("vendor-oui", "", "vendor OUI used to derive the agent's Endpoint-ID")
	cmd.Flags().String("wan-interface", "", "network interface whose MAC seeds the Endpoint-ID")
	cmd.Flags().String("log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().Bool("allow-autodiscovery", false, "auto-register unknown controllers as untrusted")

	for _, name := range []string{"db-path", "db-secure-key", "admin-socket-path", "vendor-oui", "wan-interface", "log-level", "allow-autodiscovery"} {
		_ = viper.BindPFlag(configKey(name), cmd.Flags().Lookup(name))
	}

	return cmd
}

// configKey maps a "dash-case" CLI flag name to the "snake_case" key
// config.AgentConfig.FromMap expects.
func configKey(flagName string) string {
	out := make([]byte, 0, len(flagName))
	for i := 0; i < len(flagName); i++ {
		if flagName[i] == '-' {
			out = append(out, '_')
			continue
		}
		out = append(out, flagName[i])
	}
	return string(out)
}

func loadConfig() (*config.AgentConfig, error) {
	viper.SetEnvPrefix("USPAGENTD")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("uspagentd: read config %s: %w", cfgFile, err)
		}
	}

	return config.FromMap(viper.AllSettings()), nil
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.NewJSON(parseLogLevel(cfg.LogLevel))
	logger.Info("uspagentd starting", "product_class", cfg.ProductClass, "admin_socket", cfg.AdminSocketPath)

	a, err := agent.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("uspagentd: build agent: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("uspagentd shutdown signal received", "signal", sig.String())
		cancel()
	}()

	runErr := a.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("uspagentd shutdown reported errors", "err", err.Error())
	}

	logger.Info("uspagentd stopped")
	return runErr
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "uspagentd:", err)
		os.Exit(1)
	}
}
