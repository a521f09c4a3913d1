package activity

import (
	"time"

	"github.com/lox/wandibirds/internal/models"
)

const (
	dawnStart, dawnEnd = 5, 9
	duskStart, duskEnd = 15, 19

	// Conventional peak hours reported when nothing in the window scores
	// above zero.
	dawnFallbackHour = 6
	duskFallbackHour = 17
)

// BuildCurve scores all 24 hours, extracts the dawn and dusk peaks, and tags
// the current hour with an activity level.
func BuildCurve(weather models.Weather, month time.Month, currentHour int) models.ActivityCurve {
	var curve models.ActivityCurve
	for h := 0; h < 24; h++ {
		score, label := Score(h, weather, month)
		curve.Curve[h] = models.ActivityPoint{Hour: h, Score: score, Label: label}
	}

	curve.DawnPeak = peakBetween(curve.Curve[:], dawnStart, dawnEnd, dawnFallbackHour)
	curve.DuskPeak = peakBetween(curve.Curve[:], duskStart, duskEnd, duskFallbackHour)

	current := curve.Curve[currentHour]
	curve.Current = models.CurrentActivity{
		ActivityPoint: current,
		Level:         level(current.Score),
	}
	return curve
}

// peakBetween finds the max-scoring point with hour in [start, end]. The
// search is a strict running maximum seeded at the fallback hour with score
// zero, so a flat zero window still reports a peak at the conventional hour.
func peakBetween(points []models.ActivityPoint, start, end, fallbackHour int) models.Peak {
	peak := models.Peak{Hour: fallbackHour, Score: 0}
	for _, p := range points {
		if p.Hour >= start && p.Hour <= end && p.Score > peak.Score {
			peak = models.Peak{Hour: p.Hour, Score: p.Score}
		}
	}
	return peak
}

func level(score int) string {
	switch {
	case score >= 70:
		return "high"
	case score >= 40:
		return "moderate"
	default:
		return "low"
	}
}
