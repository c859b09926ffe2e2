package main

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// workerGroup runs long-lived goroutines under one cancellable context and
// reports the first unexpected failure on errs.
type workerGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	errs   chan<- error
	logger zerolog.Logger
}

func newWorkerGroup(parent context.Context, errs chan<- error, logger zerolog.Logger) *workerGroup {
	ctx, cancel := context.WithCancel(parent)
	return &workerGroup{ctx: ctx, cancel: cancel, errs: errs, logger: logger}
}

// start runs fn in its own goroutine. The returned channel closes when fn
// returns.
func (g *workerGroup) start(name string, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := fn(g.ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			g.logger.Debug().Str("worker", name).Msg("worker stopped")
			return
		}
		g.logger.Error().Err(err).Str("worker", name).Msg("worker failed")
		select {
		case g.errs <- err:
		default:
		}
	}()
	return done
}

func (g *workerGroup) stop() {
	g.cancel()
}

func waitAll(chans ...<-chan struct{}) <-chan struct{} {
	all := make(chan struct{})
	go func() {
		defer close(all)
		for _, c := range chans {
			<-c
		}
	}()
	return all
}
