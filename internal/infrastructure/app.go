package infrastructure

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Server is a long-running component started and stopped by App.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type App struct {
	servers         []Server
	shutdownTimeout time.Duration
}

func NewApp(servers []Server) *App {
	return &App{servers: servers, shutdownTimeout: 10 * time.Second}
}

// Run starts every server and stops them all once ctx is cancelled or any
// server fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range a.servers {
		s := srv
		g.Go(func() error {
			return s.Start(ctx)
		})
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	for _, srv := range a.servers {
		_ = srv.Stop(stopCtx)
	}

	return g.Wait()
}
