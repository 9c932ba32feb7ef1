package proc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Func is the body of a proc. It receives the proc's own descriptor table,
// a fork of its parent's.
type Func func(ctx context.Context, t *Table) error

// Proc is a running unit of work with its own descriptor table. It must be
// joined with Wait by whoever spawned it.
type Proc struct {
	id     uuid.UUID
	name   string
	parent string
	table  *Table
	sys    *System

	g        errgroup.Group
	started  time.Time
	exitedAt time.Time

	once sync.Once
	exit Exit
}

// Spawn forks the table and runs fn concurrently in a new proc that owns the
// fork. The caller and the child each hold a copy of every descriptor that
// was open at the time of the call, and each must close what it will not use.
func (t *Table) Spawn(ctx context.Context, name string, fn Func) (*Proc, error) {
	if !t.sys.admit() {
		return nil, fmt.Errorf("%s: spawn %s: %w (limit %d)", t.owner, name, ErrProcLimit, t.sys.maxProcs)
	}

	p := &Proc{
		id:      uuid.New(),
		name:    name,
		parent:  t.owner,
		table:   t.Fork(name),
		sys:     t.sys,
		started: time.Now().UTC(),
	}

	t.sys.observer.ProcStarted(name)
	t.sys.logger.Debug("spawn",
		zap.String("proc", name),
		zap.Stringer("id", p.id),
		zap.String("parent", p.parent),
		zap.Int("inherited", p.table.Len()))

	p.g.Go(func() error {
		return p.run(ctx, fn)
	})
	return p, nil
}

func (p *Proc) run(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %w: %v", p.name, ErrPanic, r)
		}

		leaked, cerr := p.table.closeAll()
		if leaked > 0 {
			p.sys.logger.Warn("descriptors still open at exit",
				zap.String("proc", p.name),
				zap.Stringer("id", p.id),
				zap.Int("leaked", leaked))
		}
		if cerr != nil && err == nil {
			err = cerr
		}

		p.exitedAt = time.Now().UTC()
		p.sys.live.Add(-1)
		p.sys.observer.ProcExited(p.name, p.exitedAt.Sub(p.started), err)

		if err != nil {
			p.sys.logger.Error("exit", zap.String("proc", p.name), zap.Stringer("id", p.id), zap.Error(err))
		} else {
			p.sys.logger.Debug("exit", zap.String("proc", p.name), zap.Stringer("id", p.id))
		}
	}()

	return fn(ctx, p.table)
}

// Wait blocks until the proc has exited and returns its status. It may be
// called more than once.
func (p *Proc) Wait() Exit {
	p.once.Do(func() {
		err := p.g.Wait()
		p.exit = Exit{
			id:        p.id,
			name:      p.name,
			startedAt: p.started,
			exitedAt:  p.exitedAt,
			err:       err,
		}
	})
	return p.exit
}

func (p *Proc) ID() uuid.UUID {
	return p.id
}

func (p *Proc) Name() string {
	return p.name
}
