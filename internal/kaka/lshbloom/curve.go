package lshbloom

import (
	"math"

	"kaka.lopezb.com/internal/kaka/kakaerr"
)

// MatchProbability returns the chance that two fingerprints with bit agreement
// s collide in at least one of b bands of r rows: 1 - (1 - s^r)^b.
func MatchProbability(s float64, r, b int) float64 {
	return 1 - math.Pow(1-math.Pow(s, float64(r)), float64(b))
}

// Threshold approximates the similarity at which MatchProbability crosses
// one half: (1/b)^(1/r).
func Threshold(b, r int) float64 {
	return math.Pow(1/float64(b), 1/float64(r))
}

// ChooseBands returns the band count b dividing width, with at most 64 rows
// per band, whose threshold is closest to target. Ties go to more bands.
func ChooseBands(width int, target float64) (int, error) {
	if width <= 0 {
		return 0, kakaerr.Config("lshbloom: width %d must be > 0", width)
	}
	if !(target >= 0 && target <= 1) {
		return 0, kakaerr.Config("lshbloom: threshold %v outside [0, 1]", target)
	}
	best, bestDiff := 0, math.Inf(1)
	for b := 1; b <= width; b++ {
		if width%b != 0 || width/b > 64 {
			continue
		}
		d := math.Abs(Threshold(b, width/b) - target)
		if d <= bestDiff {
			best, bestDiff = b, d
		}
	}
	if best == 0 {
		return 0, kakaerr.Config("lshbloom: no band count fits width %d", width)
	}
	return best, nil
}
