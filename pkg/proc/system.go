package proc

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ib-77/sieve/pkg/pipe"
)

const (
	DefaultMaxProcs = 64
	DefaultMaxFiles = 16
)

// Observer receives process and descriptor lifecycle events.
type Observer interface {
	ProcStarted(name string)
	ProcExited(name string, d time.Duration, err error)
	PipeCreated()
	DescriptorsOpened(n int)
	DescriptorsClosed(n int)
}

type NopObserver struct{}

func (NopObserver) ProcStarted(string)                      {}
func (NopObserver) ProcExited(string, time.Duration, error) {}
func (NopObserver) PipeCreated()                            {}
func (NopObserver) DescriptorsOpened(int)                   {}
func (NopObserver) DescriptorsClosed(int)                   {}

type Config struct {
	Transport pipe.Transport
	// MaxProcs bounds the number of live procs across the system.
	MaxProcs int
	// MaxFiles bounds the number of open descriptors in a single table.
	MaxFiles int
}

func DefaultConfig() Config {
	return Config{
		Transport: pipe.OS{},
		MaxProcs:  DefaultMaxProcs,
		MaxFiles:  DefaultMaxFiles,
	}
}

type Option func(*System)

func WithLogger(logger *zap.Logger) Option {
	return func(s *System) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *System) {
		if o != nil {
			s.observer = o
		}
	}
}

// System is the host for procs: it owns the transport, enforces the proc and
// descriptor budgets and keeps a ledger of everything still alive.
type System struct {
	transport pipe.Transport
	maxProcs  int64
	maxFiles  int
	logger    *zap.Logger
	observer  Observer

	live atomic.Int64
	open atomic.Int64

	mu     sync.Mutex
	files  map[uint64]*file
	nextID uint64
}

func NewSystem(cfg Config, opts ...Option) *System {
	def := DefaultConfig()
	if cfg.Transport == nil {
		cfg.Transport = def.Transport
	}
	if cfg.MaxProcs <= 0 {
		cfg.MaxProcs = def.MaxProcs
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = def.MaxFiles
	}

	s := &System{
		transport: cfg.Transport,
		maxProcs:  int64(cfg.MaxProcs),
		maxFiles:  cfg.MaxFiles,
		logger:    zap.NewNop(),
		observer:  NopObserver{},
		files:     make(map[uint64]*file),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewTable returns an empty descriptor table for a caller that is not itself
// a spawned proc, such as a pipeline driver.
func (s *System) NewTable(owner string) *Table {
	return newTable(s, owner)
}

// Live is the number of procs that have been spawned and not yet exited.
func (s *System) Live() int {
	return int(s.live.Load())
}

// Open is the number of descriptors open across all tables.
func (s *System) Open() int {
	return int(s.open.Load())
}

func (s *System) Logger() *zap.Logger {
	return s.logger
}

func (s *System) Transport() pipe.Transport {
	return s.transport
}

// Kill force-closes every endpoint still open, waking any proc blocked on a
// read or write. It is the last resort for reaping a wedged pipeline and
// returns the number of endpoints it closed.
func (s *System) Kill() int {
	s.mu.Lock()
	victims := make([]*file, 0, len(s.files))
	for _, f := range s.files {
		victims = append(victims, f)
	}
	s.mu.Unlock()

	// read ends first, so blocked readers fail instead of seeing a clean
	// end-of-stream
	sort.Slice(victims, func(i, j int) bool { return victims[i].kind < victims[j].kind })

	for _, f := range victims {
		_ = f.shut()
	}
	if len(victims) > 0 {
		s.logger.Warn("killed open endpoints", zap.Int("endpoints", len(victims)))
	}
	return len(victims)
}

func (s *System) admit() bool {
	for {
		n := s.live.Load()
		if n >= s.maxProcs {
			return false
		}
		if s.live.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *System) opened(n int) {
	s.open.Add(int64(n))
	s.observer.DescriptorsOpened(n)
}

func (s *System) closed(n int) {
	s.open.Add(int64(-n))
	s.observer.DescriptorsClosed(n)
}

func (s *System) register(f *file) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	f.id = s.nextID
	s.files[f.id] = f
}

func (s *System) forget(f *file) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, f.id)
}
