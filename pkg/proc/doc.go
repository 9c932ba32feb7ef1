// Package proc models processes that talk over pipes.
//
// A System hosts procs and enforces two budgets: live procs and descriptors
// per table. Every proc owns a Table of descriptors. Spawn forks the caller's
// table into the child, so right after a spawn both sides hold a descriptor
// for every endpoint that was open. A write end only reaches end-of-stream
// once every descriptor referring to it has been closed, which is why both
// sides must close what they do not use.
//
// Key constructs:
// - System: budgets, ledger of live procs and open descriptors, Kill
// - Table: Pipe, Close, CloseExcept, Reader, Writer, Fork, Spawn
// - Proc/Exit: join a spawned proc and inspect how it ended
package proc
