package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
)

// Loop is the blocking control loop; command.Dispatcher satisfies it.
type Loop interface {
	Run(ctx context.Context) error
}

// Runner drives a Loop until it fails or the process is signalled.
type Runner struct {
	loop   Loop
	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup
	c      chan os.Signal
	err    error
}

func NewRunner(l Loop) *Runner {
	return &Runner{loop: l}
}

func (r *Runner) run() {
	defer r.wg.Done()
	defer r.cancel()

	err := r.loop.Run(r.ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	r.err = err
}

func (r *Runner) watch() {
	select {
	case sig := <-r.c:
		log.Info().Str("signal", sig.String()).Msg("shutting down after the current command")
		r.cancel()
	case <-r.ctx.Done():
	}
}

// Start blocks until the loop returns. A signal cancels the loop; the
// command being dispatched finishes first.
func (r *Runner) Start(parent context.Context) error {
	r.ctx, r.cancel = context.WithCancel(parent)

	r.wg = &sync.WaitGroup{}
	r.wg.Add(1)

	r.c = make(chan os.Signal, 1)
	signal.Notify(r.c, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(r.c)
		r.cancel()
	}()

	go r.watch()
	go r.run()

	r.wg.Wait()
	return r.err
}

// Idle is a Loop that does nothing until it is stopped. The daemon runs it
// in place of the dispatcher while a safe mode marker is present.
type Idle struct{}

func (Idle) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
