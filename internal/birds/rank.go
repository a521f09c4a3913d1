package birds

import (
	"sort"
	"time"

	"github.com/lox/wandibirds/internal/models"
)

// nullHourDistance is the distance assigned to observations with no known
// hour, so they always rank behind any observation with a real timestamp.
const nullHourDistance = 24

const observedAtLayout = "2006-01-02 15:04"

// HourDistance is the circular distance between two hours of day: the
// shorter way around a 24-hour clock. HourDistance(23, 1) == 2.
func HourDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if 24-d < d {
		d = 24 - d
	}
	return d
}

func obsDistance(o models.Observation, referenceHour int) int {
	if o.ObsHour == nil {
		return nullHourDistance
	}
	return HourDistance(*o.ObsHour, referenceHour)
}

// Rank collapses observations to one per species code and orders them by
// relevance to referenceHour.
//
// With a reference hour, the surviving duplicate is the one observed closest
// to that hour of day (ties keep the earlier-stored one), and the result is
// sorted closest-first. A bird seen at 6am three days ago outranks one seen
// at 11pm yesterday for a 6am visitor.
//
// With a nil reference hour duplicates are never replaced (first-seen wins)
// and the result is sorted most-recent-first by observed_at.
func Rank(observations []models.Observation, referenceHour *int) []models.Observation {
	index := make(map[string]int)
	out := make([]models.Observation, 0, len(observations))

	for _, o := range observations {
		i, seen := index[o.SpeciesCode]
		if !seen {
			index[o.SpeciesCode] = len(out)
			out = append(out, o)
			continue
		}
		if referenceHour == nil {
			continue
		}
		if obsDistance(o, *referenceHour) < obsDistance(out[i], *referenceHour) {
			out[i] = o
		}
	}

	if referenceHour != nil {
		ref := *referenceHour
		sort.SliceStable(out, func(a, b int) bool {
			return obsDistance(out[a], ref) < obsDistance(out[b], ref)
		})
	} else {
		sort.SliceStable(out, func(a, b int) bool {
			return parseObservedAt(out[a].ObservedAt).After(parseObservedAt(out[b].ObservedAt))
		})
	}
	return out
}

// parseObservedAt parses the provider-local timestamp for recency sorting.
// Unparseable values get the zero time and sort last.
func parseObservedAt(s string) time.Time {
	t, err := time.Parse(observedAtLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
