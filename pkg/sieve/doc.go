// Package sieve implements a concurrent prime sieve as a chain of procs
// connected by pipes.
//
// A source emits 2..N into the first pipe. Each filter stage reads its first
// value, which is a prime, reports it, spawns the next stage behind a fresh
// pipe, and then forwards every later value not divisible by its prime.
// Stages are created lazily and each one joins only its own child, so the
// driver's join covers a chain whose length is unknown when it starts.
//
// Key constructs:
// - Pipeline/New/Run: build and join the chain
// - Primes: run and collect the discovered primes
// - Reporter: LineReporter ("prime <v>" lines), ChanReporter, ReporterFunc
// - WithDiscipline: choose which inherited descriptors a stage releases
// - State: uninitialized, active, terminated
package sieve
