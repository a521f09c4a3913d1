package ingest

import (
	"strconv"
	"strings"

	"github.com/lox/wandibirds/internal/models"
)

// Normalize maps raw provider records into the canonical Observation shape.
// Malformed timestamps degrade to a nil ObsHour rather than dropping the
// record; downstream ranking treats nil as "unknown time, rank last".
func Normalize(records []RawObservation) []models.Observation {
	out := make([]models.Observation, 0, len(records))
	for _, r := range records {
		howMany := r.HowMany
		if howMany <= 0 {
			howMany = 1
		}
		out = append(out, models.Observation{
			CommonName:     r.ComName,
			ScientificName: r.SciName,
			HowMany:        howMany,
			ObservedAt:     r.ObsDt,
			ObsHour:        parseObsHour(r.ObsDt),
			LocationName:   r.LocName,
			SpeciesCode:    r.SpeciesCode,
		})
	}
	return out
}

// parseObsHour reads the hour from a provider-local "YYYY-MM-DD HH:mm"
// timestamp. Date-only or otherwise malformed strings yield nil.
func parseObsHour(obsDt string) *int {
	parts := strings.SplitN(obsDt, " ", 2)
	if len(parts) != 2 {
		return nil
	}
	fields := strings.SplitN(parts[1], ":", 2)
	if len(fields) != 2 {
		return nil
	}
	hour, err := strconv.Atoi(fields[0])
	if err != nil || hour < 0 || hour > 23 {
		return nil
	}
	return &hour
}
