package proc

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// FD is a descriptor number, local to one Table.
type FD int

type Kind int

const (
	ReadEnd Kind = iota
	WriteEnd
)

func (k Kind) String() string {
	if k == ReadEnd {
		return "read"
	}
	return "write"
}

// file is one endpoint of a pipe, shared by every descriptor that refers to
// it. The endpoint is closed when the last descriptor goes away.
type file struct {
	sys  *System
	id   uint64
	kind Kind
	r    io.ReadCloser
	w    io.WriteCloser

	mu   sync.Mutex
	refs int

	once sync.Once
	err  error
}

func (f *file) dup() {
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
}

func (f *file) release() error {
	f.mu.Lock()
	f.refs--
	last := f.refs == 0
	f.mu.Unlock()

	if !last {
		return nil
	}
	f.sys.forget(f)
	return f.shut()
}

func (f *file) shut() error {
	f.once.Do(func() {
		if f.kind == ReadEnd {
			f.err = f.r.Close()
		} else {
			f.err = f.w.Close()
		}
	})
	return f.err
}

// Table is the descriptor table of a single proc. Descriptors are allocated
// lowest-free-first and keep their numbers across Fork.
type Table struct {
	sys   *System
	owner string

	mu  sync.Mutex
	fds map[FD]*file
}

func newTable(sys *System, owner string) *Table {
	return &Table{sys: sys, owner: owner, fds: make(map[FD]*file)}
}

func (t *Table) Owner() string {
	return t.owner
}

// Len is the number of open descriptors.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.fds)
}

// FDs returns the open descriptors in ascending order.
func (t *Table) FDs() []FD {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sortedLocked()
}

// Pipe creates a new channel and returns its read and write descriptors.
func (t *Table) Pipe() (r FD, w FD, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.fds)+2 > t.sys.maxFiles {
		return -1, -1, fmt.Errorf("%s: pipe: %w (%d open, limit %d)", t.owner, ErrTooManyFiles, len(t.fds), t.sys.maxFiles)
	}

	rc, wc, err := t.sys.transport.Pipe()
	if err != nil {
		return -1, -1, fmt.Errorf("%s: %w: %w", t.owner, ErrPipe, err)
	}

	rf := &file{sys: t.sys, kind: ReadEnd, r: rc, refs: 1}
	wf := &file{sys: t.sys, kind: WriteEnd, w: wc, refs: 1}
	t.sys.register(rf)
	t.sys.register(wf)

	r = t.allocLocked(rf)
	w = t.allocLocked(wf)
	t.sys.opened(2)
	t.sys.observer.PipeCreated()
	return r, w, nil
}

// Close releases fd.
func (t *Table) Close(fd FD) error {
	t.mu.Lock()
	f, ok := t.fds[fd]
	if ok {
		delete(t.fds, fd)
	}
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s: close %d: %w", t.owner, fd, ErrBadDescriptor)
	}
	t.sys.closed(1)
	return f.release()
}

// CloseExcept releases every descriptor not listed in keep.
func (t *Table) CloseExcept(keep ...FD) error {
	kept := make(map[FD]bool, len(keep))
	for _, fd := range keep {
		kept[fd] = true
	}

	var errs []error
	for _, fd := range t.FDs() {
		if kept[fd] {
			continue
		}
		if err := t.Close(fd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reader returns the stream behind a read descriptor.
func (t *Table) Reader(fd FD) (io.Reader, error) {
	f, err := t.lookup(fd, ReadEnd)
	if err != nil {
		return nil, err
	}
	return f.r, nil
}

// Writer returns the stream behind a write descriptor.
func (t *Table) Writer(fd FD) (io.Writer, error) {
	f, err := t.lookup(fd, WriteEnd)
	if err != nil {
		return nil, err
	}
	return f.w, nil
}

// Kind reports whether fd is a read or a write end.
func (t *Table) Kind(fd FD) (Kind, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.fds[fd]
	if !ok {
		return 0, fmt.Errorf("%s: %d: %w", t.owner, fd, ErrBadDescriptor)
	}
	return f.kind, nil
}

// Fork returns a copy of the table for a new owner. Every descriptor is
// duplicated, so each endpoint gains one more holder.
func (t *Table) Fork(owner string) *Table {
	t.mu.Lock()
	defer t.mu.Unlock()

	child := newTable(t.sys, owner)
	for fd, f := range t.fds {
		f.dup()
		child.fds[fd] = f
	}
	if n := len(child.fds); n > 0 {
		t.sys.opened(n)
	}
	return child
}

// closeAll releases every remaining descriptor and reports how many there
// were.
func (t *Table) closeAll() (int, error) {
	fds := t.FDs()
	var errs []error
	for _, fd := range fds {
		if err := t.Close(fd); err != nil {
			errs = append(errs, err)
		}
	}
	return len(fds), errors.Join(errs...)
}

func (t *Table) lookup(fd FD, kind Kind) (*file, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.fds[fd]
	if !ok {
		return nil, fmt.Errorf("%s: %d: %w", t.owner, fd, ErrBadDescriptor)
	}
	if f.kind != kind {
		return nil, fmt.Errorf("%s: %d is a %s end: %w", t.owner, fd, f.kind, ErrBadDescriptor)
	}
	return f, nil
}

func (t *Table) allocLocked(f *file) FD {
	fd := FD(0)
	for {
		if _, used := t.fds[fd]; !used {
			break
		}
		fd++
	}
	t.fds[fd] = f
	return fd
}

func (t *Table) sortedLocked() []FD {
	fds := make([]FD, 0, len(t.fds))
	for fd := range t.fds {
		fds = append(fds, fd)
	}
	sort.Slice(fds, func(i, j int) bool { return fds[i] < fds[j] })
	return fds
}
