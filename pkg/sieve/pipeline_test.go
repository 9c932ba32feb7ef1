package sieve

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ib-77/sieve/pkg/pipe"
	"github.com/ib-77/sieve/pkg/proc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var primesTo35 = []int32{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31}

func transports() []pipe.Transport {
	return []pipe.Transport{pipe.OS{}, pipe.Memory{}}
}

// trialDivision is the reference the pipeline is checked against.
func trialDivision(limit int) []int32 {
	res := make([]int32, 0)
	for n := 2; n <= limit; n++ {
		prime := true
		for d := 2; d*d <= n; d++ {
			if n%d == 0 {
				prime = false
				break
			}
		}
		if prime {
			res = append(res, int32(n))
		}
	}
	return res
}

// runWithin runs p and fails the test if it has not returned after d.
func runWithin(t *testing.T, ctx context.Context, p *Pipeline, d time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case <-time.After(d):
		t.Fatalf("pipeline with limit %d did not finish within %s", p.Limit(), d)
		return nil
	}
}

func assertNothingLeft(t *testing.T, sys *proc.System) {
	t.Helper()
	assert.Equal(t, 0, sys.Live(), "live procs")
	assert.Equal(t, 0, sys.Open(), "open descriptors")
}

func TestPrimes_MatchesTrialDivision(t *testing.T) {
	limits := []int{-5, 0, 1, 2, 3, 10, 35, 100, 500}

	for _, tr := range transports() {
		for _, limit := range limits {
			// one proc per prime plus the source and the terminal stage
			sys := proc.NewSystem(proc.Config{Transport: tr, MaxProcs: 256})

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			got, err := Primes(ctx, sys, limit)
			cancel()

			require.NoError(t, err, "%s limit=%d", tr.Name(), limit)
			if diff := cmp.Diff(trialDivision(limit), got); diff != "" {
				t.Errorf("%s limit=%d: primes mismatch (-want +got):\n%s", tr.Name(), limit, diff)
			}
			assertNothingLeft(t, sys)
		}
	}
}

func TestRun_LineOutput(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  string
	}{
		{name: "ten", limit: 10, want: "prime 2\nprime 3\nprime 5\nprime 7\n"},
		{name: "one", limit: 1, want: ""},
		{name: "two", limit: 2, want: "prime 2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			sys := proc.NewSystem(proc.DefaultConfig())
			p, err := New(sys, tt.limit, WithReporter(NewLineReporter(&out)))
			require.NoError(t, err)

			require.NoError(t, runWithin(t, context.Background(), p, 5*time.Second))
			assert.Equal(t, tt.want, out.String())
			assertNothingLeft(t, sys)
		})
	}
}

func TestRun_DefaultLimit(t *testing.T) {
	sys := proc.NewSystem(proc.DefaultConfig())
	got, err := Primes(context.Background(), sys, DefaultLimit)
	require.NoError(t, err)
	assert.Equal(t, primesTo35, got)
	assertNothingLeft(t, sys)
}

// recorder wraps a transport and records every value written to each pipe,
// indexed by creation order.
type recorder struct {
	pipe.Memory
	mu    sync.Mutex
	pipes [][]int32
}

type recordingWriter struct {
	io.WriteCloser
	rec *recorder
	idx int
}

func (w recordingWriter) Write(b []byte) (int, error) {
	n, err := w.WriteCloser.Write(b)
	if err == nil && n == 4 {
		w.rec.mu.Lock()
		w.rec.pipes[w.idx] = append(w.rec.pipes[w.idx], int32(binary.LittleEndian.Uint32(b)))
		w.rec.mu.Unlock()
	}
	return n, err
}

func (r *recorder) Pipe() (io.ReadCloser, io.WriteCloser, error) {
	rc, wc, err := r.Memory.Pipe()
	if err != nil {
		return nil, nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipes = append(r.pipes, nil)
	return rc, recordingWriter{WriteCloser: wc, rec: r, idx: len(r.pipes) - 1}, nil
}

func TestRun_NoMultipleOfADiscoveredPrimeTravelsDownstream(t *testing.T) {
	rec := &recorder{}
	sys := proc.NewSystem(proc.Config{Transport: rec})

	got, err := Primes(context.Background(), sys, 200)
	require.NoError(t, err)
	require.Equal(t, trialDivision(200), got)

	// pipe k is written by the stage owning got[k-1]; one extra pipe feeds
	// the terminal stage that sees end-of-stream immediately.
	require.Len(t, rec.pipes, len(got)+1)
	for k, values := range rec.pipes {
		var prev int32
		for _, v := range values {
			assert.Greater(t, v, prev, "pipe %d is not in ascending order", k)
			prev = v
			for _, p := range got[:k] {
				assert.NotZero(t, v%p, "pipe %d carries %d, a multiple of %d", k, v, p)
			}
		}
		if k < len(got) {
			require.NotEmpty(t, values)
			assert.Equal(t, got[k], values[0], "first value on pipe %d", k)
		} else {
			assert.Empty(t, values)
		}
	}
	assertNothingLeft(t, sys)
}

type countingObserver struct {
	mu                          sync.Mutex
	found, forwarded, discarded int
}

func (o *countingObserver) PrimeFound(int32)     { o.mu.Lock(); o.found++; o.mu.Unlock() }
func (o *countingObserver) ValueForwarded(int32) { o.mu.Lock(); o.forwarded++; o.mu.Unlock() }
func (o *countingObserver) ValueDiscarded(int32) { o.mu.Lock(); o.discarded++; o.mu.Unlock() }

func TestRun_ObserverCounts(t *testing.T) {
	obs := &countingObserver{}
	sys := proc.NewSystem(proc.DefaultConfig())

	_, err := Primes(context.Background(), sys, 35, WithObserver(obs))
	require.NoError(t, err)

	wantForwarded := 0
	candidates := make([]int32, 0)
	for v := int32(2); v <= 35; v++ {
		candidates = append(candidates, v)
	}
	for len(candidates) > 0 {
		p := candidates[0]
		rest := make([]int32, 0)
		for _, v := range candidates[1:] {
			if v%p != 0 {
				rest = append(rest, v)
			}
		}
		wantForwarded += len(rest)
		candidates = rest
	}

	assert.Equal(t, 11, obs.found)
	assert.Equal(t, 23, obs.discarded, "every composite is dropped exactly once")
	assert.Equal(t, wantForwarded, obs.forwarded)
}

func TestRun_LeakedUpstreamWriteHangs(t *testing.T) {
	for _, tr := range transports() {
		t.Run(tr.Name(), func(t *testing.T) {
			sys := proc.NewSystem(proc.Config{Transport: tr})
			p, err := New(sys, 35)
			require.NoError(t, err)

			ctx := WithDiscipline(context.Background(), LeakUpstreamWrite)
			done := make(chan error, 1)
			go func() { done <- p.Run(ctx) }()

			select {
			case err := <-done:
				t.Fatalf("pipeline finished although a stage kept its upstream write end: %v", err)
			case <-time.After(200 * time.Millisecond):
			}
			assert.Positive(t, sys.Live(), "stages should be wedged, not gone")

			sys.Kill()
			select {
			case err := <-done:
				assert.Error(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("pipeline did not unwind after kill")
			}
			assertNothingLeft(t, sys)
		})
	}
}

func TestRun_StrictDisciplineFinishes(t *testing.T) {
	for _, tr := range transports() {
		t.Run(tr.Name(), func(t *testing.T) {
			sys := proc.NewSystem(proc.Config{Transport: tr})
			p, err := New(sys, 35)
			require.NoError(t, err)

			ctx := WithDiscipline(context.Background(), Strict)
			require.NoError(t, runWithin(t, ctx, p, 5*time.Second))
			assertNothingLeft(t, sys)
		})
	}
}

func TestRun_ProcLimitIsSurfaced(t *testing.T) {
	for _, tr := range transports() {
		t.Run(tr.Name(), func(t *testing.T) {
			sys := proc.NewSystem(proc.Config{Transport: tr, MaxProcs: 4})

			got, err := Primes(context.Background(), sys, 35)
			require.Error(t, err)
			assert.ErrorIs(t, err, proc.ErrProcLimit)
			assert.Less(t, len(got), len(primesTo35))
			assert.Equal(t, primesTo35[:len(got)], got)
			assertNothingLeft(t, sys)
		})
	}
}

func TestRun_FileLimitIsSurfaced(t *testing.T) {
	sys := proc.NewSystem(proc.Config{MaxFiles: 2})

	got, err := Primes(context.Background(), sys, 35)
	require.Error(t, err)
	assert.ErrorIs(t, err, proc.ErrTooManyFiles)
	assert.Equal(t, []int32{2}, got)
	assertNothingLeft(t, sys)
}

func TestRun_ReporterFailureIsFatal(t *testing.T) {
	boom := errors.New("stdout closed")
	var reported []int32
	var mu sync.Mutex
	reporter := ReporterFunc(func(_ context.Context, prime int32) error {
		if prime == 5 {
			return boom
		}
		mu.Lock()
		reported = append(reported, prime)
		mu.Unlock()
		return nil
	})

	sys := proc.NewSystem(proc.DefaultConfig())
	p, err := New(sys, 35, WithReporter(reporter))
	require.NoError(t, err)

	err = runWithin(t, context.Background(), p, 5*time.Second)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int32{2, 3}, reported)
	assertNothingLeft(t, sys)
}

func TestNew_LimitRange(t *testing.T) {
	sys := proc.NewSystem(proc.DefaultConfig())

	_, err := New(sys, math.MaxInt32+1)
	assert.ErrorIs(t, err, ErrLimitRange)

	p, err := New(sys, math.MaxInt32)
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt32, p.Limit())
}

func TestEmit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Emit(&buf, 6))
	assert.Equal(t, 5*4, buf.Len())

	buf.Reset()
	require.NoError(t, Emit(&buf, 1))
	assert.Zero(t, buf.Len())
}

func TestCollect_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, Collect(ctx, make(chan int)))

	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	close(ch)
	assert.Equal(t, []int{1, 2}, Collect(context.Background(), ch))
}
