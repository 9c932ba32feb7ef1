// Package pipe provides the byte-stream transports that connect sieve
// stages: OS pipes with real descriptors, and in-memory synchronous pipes.
package pipe
