package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prompt-tester/internal/dashboard"
	"prompt-tester/internal/metrics"
	"prompt-tester/internal/server"
	"prompt-tester/internal/session"
	"prompt-tester/internal/tester"
)

const sessionSweepInterval = time.Minute

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the prompt comparison dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	cmd.Flags().String("host", "", "listen host")
	cmd.Flags().Int("port", 0, "listen port")
	_ = viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func runServe(cmd *cobra.Command) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	var observer tester.Observer
	var collectors *metrics.Metrics
	if cfg.Metrics.Enabled {
		collectors = metrics.New()
		observer = collectors
	}
	runner, err := newRunner(cfg, log, tester.WithObserver(observer))
	if err != nil {
		return err
	}

	defaults := cfg.DefaultSettings()
	store := session.NewStore(cfg.Session.TTL, defaults)
	srv := server.New(server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		CORSOrigins:  cfg.Server.CORSOrigins,
	}, log)
	if collectors != nil {
		collectors.Register(srv.Engine(), cfg.Metrics.Path)
	}

	handler := dashboard.New(runner, store, dashboard.Config{
		Defaults:   defaults,
		CookieName: cfg.Session.CookieName,
		RunTimeout: cfg.Server.RunTimeout,
	}, log)
	if err := handler.Register(srv.Engine()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	defer close(done)
	go store.Janitor(sessionSweepInterval, done)

	if err := srv.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Dashboard listening on http://%s\n", srv.Addr())

	<-ctx.Done()
	return srv.Stop(context.Background())
}
