package sieve

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ib-77/sieve/pkg/proc"
	"github.com/ib-77/sieve/pkg/wire"
)

// stage is one filter in the chain. It owns the read end of its upstream
// channel and, once active, the write end of its downstream channel and the
// child stage reading from it.
type stage struct {
	p     *Pipeline
	name  string
	depth int
	state State

	in      proc.FD
	inWrite proc.FD
	dec     *wire.Decoder

	prime int32
	out   proc.FD
	child *proc.Proc

	forwarded int
	discarded int

	// closeErr holds a failure to release the child's read end, reported
	// once the child has been joined.
	closeErr error
}

// filter returns the body of the stage at depth. in is the upstream read end;
// inWrite is the stage's inherited copy of the upstream write end.
func (p *Pipeline) filter(depth int, in, inWrite proc.FD) proc.Func {
	return func(ctx context.Context, t *proc.Table) error {
		st := &stage{
			p:       p,
			name:    stageName(depth),
			depth:   depth,
			state:   Uninitialized,
			in:      in,
			inWrite: inWrite,
			out:     -1,
		}
		return st.run(ctx, t)
	}
}

func (st *stage) run(ctx context.Context, t *proc.Table) error {
	keep := []proc.FD{st.in}
	if GetDiscipline(ctx, Strict) == LeakUpstreamWrite {
		keep = append(keep, st.inWrite)
	}
	if err := t.CloseExcept(keep...); err != nil {
		return fmt.Errorf("%s: %w", st.name, err)
	}

	rd, err := t.Reader(st.in)
	if err != nil {
		return fmt.Errorf("%s: %w", st.name, err)
	}
	st.dec = wire.NewDecoder(rd)

	for {
		switch st.state {
		case Uninitialized:
			if err := st.await(ctx, t); err != nil {
				return err
			}
		case Active:
			return st.drain(t)
		case Terminated:
			return nil
		}
	}
}

// await reads the first value. End-of-stream terminates the stage; a value
// makes it active.
func (st *stage) await(ctx context.Context, t *proc.Table) error {
	first, err := st.dec.Decode()
	if errors.Is(err, io.EOF) {
		st.enter(Terminated)
		return t.Close(st.in)
	}
	if err != nil {
		return errors.Join(fmt.Errorf("%s: read: %w", st.name, err), t.Close(st.in))
	}

	if err := st.activate(ctx, t, first); err != nil {
		return errors.Join(err, t.Close(st.in))
	}
	return nil
}

// activate claims prime, reports it, and spawns the downstream stage.
func (st *stage) activate(ctx context.Context, t *proc.Table, prime int32) error {
	st.prime = prime
	if err := st.p.reporter.Report(ctx, prime); err != nil {
		return fmt.Errorf("%s: report %d: %w", st.name, prime, err)
	}
	st.p.observer.PrimeFound(prime)

	r, w, err := t.Pipe()
	if err != nil {
		return fmt.Errorf("%s: %w", st.name, err)
	}

	child, err := t.Spawn(ctx, stageName(st.depth+1), st.p.filter(st.depth+1, r, w))
	if err != nil {
		return errors.Join(fmt.Errorf("%s: %w", st.name, err), t.Close(r), t.Close(w))
	}

	st.child = child
	st.out = w
	st.enter(Active)
	st.p.logger.Debug("stage active",
		zap.String("proc", st.name),
		zap.Int32("prime", prime),
		zap.Stringer("child", child.ID()))

	st.closeErr = t.Close(r)
	return nil
}

// drain forwards every upstream value not divisible by the stage's prime,
// then releases both ends and joins the child.
func (st *stage) drain(t *proc.Table) error {
	ferr := st.forward(t)

	errs := []error{st.closeErr, ferr, t.Close(st.in), t.Close(st.out)}
	exit := st.child.Wait()
	errs = append(errs, exit.Err())

	st.enter(Terminated)
	st.p.logger.Debug("stage terminated",
		zap.String("proc", st.name),
		zap.Int32("prime", st.prime),
		zap.Int("forwarded", st.forwarded),
		zap.Int("discarded", st.discarded))

	return errors.Join(errs...)
}

func (st *stage) forward(t *proc.Table) error {
	wr, err := t.Writer(st.out)
	if err != nil {
		return fmt.Errorf("%s: %w", st.name, err)
	}
	enc := wire.NewEncoder(wr)

	for {
		v, err := st.dec.Decode()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: read: %w", st.name, err)
		}

		if v%st.prime == 0 {
			st.discarded++
			st.p.observer.ValueDiscarded(st.prime)
			continue
		}
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("%s: forward %d: %w", st.name, v, err)
		}
		st.forwarded++
		st.p.observer.ValueForwarded(st.prime)
	}
}

func (st *stage) enter(next State) {
	if !st.state.CanTransition(next) {
		panic(fmt.Sprintf("%s: invalid transition %s -> %s", st.name, st.state, next))
	}
	st.state = next
}
