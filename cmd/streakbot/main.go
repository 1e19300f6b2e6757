package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"streakbot/internal/app"
	"streakbot/internal/config"
	logx "streakbot/pkg/logx"
)

const defaultConfig = "./config.json"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "streakbot",
		Short:         "Scheduled direct-message sender",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfgPath)
		},
	}
	root.Flags().StringVar(&cfgPath, "config", defaultConfig, "path to config json")
	root.AddCommand(newServeCmd(), newRunBatchCmd(), newRunCmd(), newStatusCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfgPath)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", defaultConfig, "path to config json")
	return cmd
}

func serve(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(parent); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopAppStop
	select {
	case sig := <-sigs:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	case <-parent.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	stopErr := a.Stop(ctx, reason)
	if reason == app.StopFatalError {
		return errors.Join(a.Err(), stopErr)
	}
	return stopErr
}

// newRunBatchCmd is the child side of the process runner. It is not meant
// to be invoked by hand.
func newRunBatchCmd() *cobra.Command {
	var payloadPath, resultPath, level string
	cmd := &cobra.Command{
		Use:    "run-batch",
		Short:  "Run one batch payload (child process entry)",
		Hidden: true,
		Args:   cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			code := app.RunChild(ctx, payloadPath, resultPath, cmd.OutOrStdout(), logx.NewConsole(os.Stderr, level))
			stop()
			os.Exit(code)
		},
	}
	cmd.Flags().StringVar(&payloadPath, "config", "", "payload file")
	cmd.Flags().StringVar(&resultPath, "result", "", "result file")
	cmd.Flags().StringVar(&level, "log-level", "info", "child log level")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("result")
	return cmd
}

func newRunCmd() *cobra.Command {
	var cfgPath, groupID string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one group now in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(cfgPath).Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := logx.NewConsole(os.Stderr, cfg.Logging.Level)
			res, err := app.RunGroup(ctx, cfg, groupID, cmd.OutOrStdout(), log)
			if res.RunID != "" {
				printResult(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", defaultConfig, "path to config json")
	cmd.Flags().StringVar(&groupID, "group", "", "group id")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}
