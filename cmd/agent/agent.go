package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shotpipe/shotpipe-agent/internal/api"
	"github.com/shotpipe/shotpipe-agent/internal/config"
	"github.com/shotpipe/shotpipe-agent/internal/jobs"
	"github.com/shotpipe/shotpipe-agent/internal/logging"
	"github.com/shotpipe/shotpipe-agent/internal/preview"
	"github.com/shotpipe/shotpipe-agent/internal/ui"
)

func newAgentCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the agent: job runner, local API and tray",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, ctx)
		},
	}
}

func runAgent(cmd *cobra.Command, cc *commandContext) error {
	startTime := time.Now()

	cfg, err := cc.ensureConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir(), 0755); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}

	logger := logging.NewLogger(cfg.Agent.LogLevel, cfg.Agent.LogFormat)
	logger.Info("starting shotpipe agent",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"config", logging.SanitizePath(cfg.Path()))

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another shotpipe agent is already running")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release agent lock", "error", err)
		}
	}()

	st, err := newStack(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	token, err := api.EnsureToken(ctx, st.repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  ShotPipe Agent v%s\n", config.Version)
	fmt.Fprintf(out, "  API URL:    http://127.0.0.1:%d\n", cfg.Agent.Port)
	fmt.Fprintf(out, "  Auth Token: %s\n", token)
	fmt.Fprintln(out)

	if cfg.ShotgridConfigured() {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.ShotgridTimeout())
		if err := st.client.Connect(connectCtx); err != nil {
			logger.Warn("shotgrid connection failed, uploads will retry on demand", "error", err)
		} else {
			logger.Info("connected to shotgrid", "server", st.client.ServerURL())
		}
		cancel()
	} else {
		logger.Warn("shotgrid credentials missing, uploads disabled")
	}

	runner := jobs.NewRunner(st.service, st.repo, cfg.PollInterval(), logging.WithComponent(logger, "runner"))

	server := api.NewServer(api.ServerConfig{
		Port:               cfg.Agent.Port,
		Repository:         st.repo,
		History:            st.history,
		Service:            st.service,
		Runner:             runner,
		Preview:            preview.NewServer(logging.WithComponent(logger, "preview")),
		Shotgrid:           st.client,
		Links:              st.links,
		ShotgridConfigured: cfg.ShotgridConfigured(),
		DefaultProject:     cfg.Shotgrid.DefaultProject,
		Version:            config.Version,
		Logger:             logging.WithComponent(logger, "api"),
		StartTime:          startTime,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runner.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown HTTP server", "error", err)
		}
		return nil
	})

	if cfg.UI.Headless {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Runner:         runner,
			Shotgrid:       st.client,
			DefaultProject: cfg.Shotgrid.DefaultProject,
			Logger:         logging.WithComponent(logger, "tray"),
			OnQuit:         stop,
		})
		go tray.Run()
		g.Go(func() error {
			<-gctx.Done()
			tray.Quit()
			return nil
		})
	}

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
