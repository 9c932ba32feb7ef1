package sieve

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ib-77/sieve/pkg/proc"
	"github.com/ib-77/sieve/pkg/wire"
)

// Emit writes the candidates 2..limit, in order, to w.
func Emit(w io.Writer, limit int32) error {
	enc := wire.NewEncoder(w)
	for v := int64(2); v <= int64(limit); v++ {
		if err := enc.Encode(int32(v)); err != nil {
			return fmt.Errorf("emit %d: %w", v, err)
		}
	}
	return nil
}

func (p *Pipeline) source(w proc.FD) proc.Func {
	return func(_ context.Context, t *proc.Table) error {
		if err := t.CloseExcept(w); err != nil {
			return err
		}

		out, err := t.Writer(w)
		if err != nil {
			return err
		}
		if err := Emit(out, p.limit); err != nil {
			return errors.Join(fmt.Errorf("source: %w", err), t.Close(w))
		}
		return t.Close(w)
	}
}
