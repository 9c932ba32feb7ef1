package sieve

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Reporter receives each prime as the stage that owns it discovers it.
type Reporter interface {
	Report(ctx context.Context, prime int32) error
}

type ReporterFunc func(ctx context.Context, prime int32) error

func (f ReporterFunc) Report(ctx context.Context, prime int32) error {
	return f(ctx, prime)
}

// LineReporter writes one "prime <value>" line per prime.
type LineReporter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLineReporter(w io.Writer) *LineReporter {
	return &LineReporter{w: w}
}

func (r *LineReporter) Report(_ context.Context, prime int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := fmt.Fprintf(r.w, "prime %d\n", prime)
	return err
}

// ChanReporter sends primes on a channel.
type ChanReporter chan<- int32

func (r ChanReporter) Report(ctx context.Context, prime int32) error {
	select {
	case r <- prime:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type discard struct{}

func (discard) Report(context.Context, int32) error { return nil }

// Collect drains out until it is closed or ctx is done.
func Collect[T any](ctx context.Context, out <-chan T) []T {
	res := make([]T, 0)
	for {
		select {
		case v, ok := <-out:
			if !ok {
				return res
			}
			res = append(res, v)
		case <-ctx.Done():
			return res
		}
	}
}
