// Package wire encodes the integers that travel between sieve stages.
//
// Every value is exactly Width bytes, little-endian, with no framing. A
// stream that ends on a value boundary is a clean end-of-stream; one that
// ends mid-value is a protocol violation reported as ErrShortRead.
package wire
