package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/campusagent/server"
)

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	cfg := rt.Config()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(rt, func(o *server.Options) {
		o.Logger = rt.Logger()
		o.RateLimit = cfg.Server.RateLimit
		o.RateBurst = cfg.Server.RateBurst
		o.ShutdownTimeout = cfg.Server.ShutdownTimeout
		if !cfg.Server.DisableMetrics {
			o.Metrics = rt.Metrics().Handler()
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := rt.Janitor().Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		rt.Janitor().Stop()
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Server.Addr)
	})
	return ignoreCanceled(g.Wait())
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
