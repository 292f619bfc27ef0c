package forecast

import (
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// ZScoreMode selects how the band multiplier is derived from the level.
type ZScoreMode string

const (
	// ZScoreExact uses the two-sided standard normal quantile for the level.
	ZScoreExact ZScoreMode = "exact"
	// ZScoreFixed always uses FixedZScore, whatever the level.
	ZScoreFixed ZScoreMode = "fixed"
)

// FixedZScore is the 95% two-sided normal multiplier.
const FixedZScore = 1.96

// ParseZScoreMode parses a configured mode name. Empty means exact.
func ParseZScoreMode(s string) (ZScoreMode, error) {
	switch ZScoreMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ZScoreExact:
		return ZScoreExact, nil
	case ZScoreFixed:
		return ZScoreFixed, nil
	default:
		return "", domain.DataErrorf("unknown z-score mode %q", s)
	}
}

// ZScore returns the band multiplier for a confidence level in (0,1).
func ZScore(level float64, mode ZScoreMode) (float64, error) {
	if !(level > 0 && level < 1) {
		return 0, domain.DataErrorf("confidence level must be in (0,1), got %v", level)
	}
	if mode == ZScoreFixed {
		return FixedZScore, nil
	}
	return distuv.UnitNormal.Quantile(1 - (1-level)/2), nil
}
