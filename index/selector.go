package index

// Selection thresholds. Below flatThreshold a brute-force scan beats graph
// traversal; IVF only pays off at very large counts with moderate dims.
const (
	// FlatThreshold is the collection size below which auto selects Flat.
	FlatThreshold = 10_000

	ivfThreshold = 1_000_000
	ivfMaxDim    = 256
)

// Select chooses the index variant for a collection given the configured
// policy and a size hint. The choice is recorded in the descriptor and fixed
// for the collection's lifetime unless an explicit rebuild is requested.
func Select(policy Policy, sizeHint int, dim int) Kind {
	switch policy {
	case PolicyFlat:
		return KindFlat
	case PolicyHNSW:
		return KindHNSW
	case PolicyIVF:
		return KindIVF
	}

	// auto
	if sizeHint < FlatThreshold {
		return KindFlat
	}
	if sizeHint >= ivfThreshold && dim > 0 && dim <= ivfMaxDim {
		return KindIVF
	}
	return KindHNSW
}
