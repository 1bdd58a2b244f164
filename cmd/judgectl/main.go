// Command judgectl judges submissions locally and maintains the sandbox host.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/bootstrap"
	"github.com/jae464/vibe-judge/internal/config"
	"github.com/jae464/vibe-judge/internal/logging"
)

var (
	runtimeFlag string
	logLevel    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "judgectl",
	Short:         "Judge submissions and manage sandbox environments",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&runtimeFlag, "runtime", "", "sandbox runtime (docker or nsjail); overrides SANDBOX_RUNTIME")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "judgectl:", err)
		os.Exit(1)
	}
}

// loadEngine reads configuration, applies flag overrides and builds the engine.
func loadEngine(role string) (*config.Config, *bootstrap.Engine, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if runtimeFlag != "" {
		cfg.Sandbox.Runtime = runtimeFlag
	}

	logger, err := logging.New(logLevel, "console")
	if err != nil {
		return nil, nil, nil, err
	}

	rt, err := bootstrap.NewRuntime(cfg.Sandbox, role, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	engine, err := bootstrap.NewEngine(cfg, rt, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, engine, logger, nil
}
