package sieve

// Observer receives per-value pipeline events.
type Observer interface {
	PrimeFound(prime int32)
	ValueForwarded(prime int32)
	ValueDiscarded(prime int32)
}

type NopObserver struct{}

func (NopObserver) PrimeFound(int32)     {}
func (NopObserver) ValueForwarded(int32) {}
func (NopObserver) ValueDiscarded(int32) {}
