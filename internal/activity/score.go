package activity

import (
	"time"

	"github.com/lox/wandibirds/internal/models"
)

// Score rates how active birds are likely to be at a given hour under the
// given weather, from 0 to 100 with a short label. It is a weighted
// heuristic, not a model; the exact thresholds are a contract shared with
// every consumer that recomputes activity locally, so change them nowhere or
// everywhere.
//
// Adjustments are applied in order: hour band, rain, wind, season,
// temperature, cloud. The rain and wind labels only replace the hour-band
// label when the running score has dropped below 40 at that point.
func Score(hour int, weather models.Weather, month time.Month) (int, string) {
	score := 50
	var label string

	switch {
	case hour >= 5 && hour <= 7:
		score += 30
		label = "Best time to spot birds"
	case hour == 8:
		score += 20
		label = "Great for spotting"
	case hour >= 9 && hour <= 11:
		score += 10
		label = "Good chance of sightings"
	case hour >= 12 && hour <= 14:
		score -= 5
		label = "Fewer birds around"
	case hour >= 15 && hour <= 16:
		score += 10
		label = "Birds picking up again"
	case hour >= 17 && hour <= 18:
		score += 20
		label = "Lots of activity"
	case hour == 19:
		score += 5
		label = "Last chance today"
	default:
		score -= 20
		label = "Not much about"
	}

	if weather.RainProbability > 60 {
		score -= 20
		if score < 40 {
			label = "Rain keeping birds hidden"
		}
	} else if weather.RainProbability > 30 {
		score -= 10
	}

	if weather.WindSpeedMS > 10 {
		score -= 15
		if score < 40 {
			label = "Too windy for most birds"
		}
	} else if weather.WindSpeedMS > 6 {
		score -= 5
	}

	switch month {
	case time.March, time.April, time.May:
		score += 15
	case time.September, time.October:
		score += 10
	case time.December, time.January, time.February:
		score -= 5
	}

	if weather.TempC >= 10 && weather.TempC <= 22 {
		score += 5
	}
	if weather.TempC < 0 {
		score -= 10
	}
	if weather.TempC > 30 {
		score -= 10
	}

	// Overcast but dry is good spotting weather.
	if weather.CloudPercent > 30 && weather.CloudPercent < 70 && weather.RainProbability < 20 {
		score += 5
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, label
}
