package bloom

import "math"

var ln2 = math.Ln2

// EstimateParameters returns the bit count m and probe count k for a filter
// holding n items at false positive rate p:
//
//	m = ceil(-n * ln(p) / ln(2)^2)
//	k = round((m / n) * ln(2)), at least 1
//
// Unlike New it does not reject bad inputs. n=0 is treated as 1 and p is
// clamped into (0, 1) so that the logarithms stay finite.
func EstimateParameters(n uint64, p float64) (uint64, uint32) {
	if n == 0 {
		n = 1
	}
	if p <= 0 {
		p = 1e-12
	} else if p >= 1 {
		p = 0.99
	}
	m := math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2))
	if m < 1 {
		m = 1
	}
	k := math.Round(m / float64(n) * ln2)
	if k < 1 {
		k = 1
	}
	return uint64(m), uint32(k)
}

// FalsePositiveRate returns the expected false positive rate of a filter with
// m bits and k probes after n distinct insertions: (1 - e^(-kn/m))^k.
func FalsePositiveRate(m uint64, k uint32, n uint64) float64 {
	if m == 0 {
		return 1
	}
	return math.Pow(1-math.Exp(-float64(k)*float64(n)/float64(m)), float64(k))
}

// estimateCardinality recovers the number of distinct insertions from the
// number of set bits x (Swamidass and Baldi, 2007).
func estimateCardinality(m uint64, k uint32, x uint64) uint64 {
	if x >= m {
		x = m - 1
	}
	n := -float64(m) / float64(k) * math.Log(1-float64(x)/float64(m))
	return uint64(math.Round(n))
}
