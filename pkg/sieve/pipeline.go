package sieve

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/ib-77/sieve/pkg/proc"
)

// DefaultLimit is the classic upper bound for a pipe-and-fork sieve.
const DefaultLimit = 35

var ErrLimitRange = errors.New("limit out of range")

type Option func(*Pipeline)

func WithReporter(r Reporter) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.reporter = r
		}
	}
}

func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// Pipeline is the sieve driver. It wires a source and a chain of filter
// stages on top of a proc.System and joins them.
type Pipeline struct {
	sys      *proc.System
	limit    int32
	reporter Reporter
	observer Observer
	logger   *zap.Logger
}

// New returns a pipeline that sieves the candidates 2..limit. A limit below 2
// is valid and yields no primes.
func New(sys *proc.System, limit int, opts ...Option) (*Pipeline, error) {
	if limit > math.MaxInt32 || limit < math.MinInt32 {
		return nil, fmt.Errorf("%w: %d does not fit in 32 bits", ErrLimitRange, limit)
	}

	p := &Pipeline{
		sys:      sys,
		limit:    int32(limit),
		reporter: discard{},
		observer: NopObserver{},
		logger:   sys.Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Pipeline) Limit() int {
	return int(p.limit)
}

// Run builds the pipeline and blocks until the source and every filter stage
// it transitively spawned have exited.
func (p *Pipeline) Run(ctx context.Context) error {
	t := p.sys.NewTable("driver")

	r, w, err := t.Pipe()
	if err != nil {
		return fmt.Errorf("sieve: %w", err)
	}

	src, err := t.Spawn(ctx, "source", p.source(w))
	if err != nil {
		return errors.Join(fmt.Errorf("sieve: %w", err), t.CloseExcept())
	}

	root, err := t.Spawn(ctx, stageName(0), p.filter(0, r, w))
	if err != nil {
		// without a reader the source fails its next write and exits
		cerr := t.CloseExcept()
		return errors.Join(fmt.Errorf("sieve: %w", err), cerr, src.Wait().Err())
	}

	cerr := t.CloseExcept()

	srcExit := src.Wait()
	rootExit := root.Wait()
	p.logger.Debug("pipeline joined",
		zap.Int("limit", int(p.limit)),
		zap.Duration("source", srcExit.Duration()),
		zap.Duration("filters", rootExit.Duration()),
		zap.Int("live", p.sys.Live()),
		zap.Int("open", p.sys.Open()))

	return errors.Join(cerr, srcExit.Err(), rootExit.Err())
}

// Primes runs a pipeline and returns the primes it discovered, in discovery
// order.
func Primes(ctx context.Context, sys *proc.System, limit int, opts ...Option) ([]int32, error) {
	ch := make(chan int32)
	p, err := New(sys, limit, append(opts, WithReporter(ChanReporter(ch)))...)
	if err != nil {
		return nil, err
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(ch)
		errCh <- p.Run(ctx)
	}()

	primes := Collect(ctx, ch)
	for range ch {
	}
	return primes, <-errCh
}

func stageName(depth int) string {
	return fmt.Sprintf("filter/%d", depth)
}
