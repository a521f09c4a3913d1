package models

import "time"

// Observation is a single bird sighting report, normalized from the upstream
// provider. SpeciesCode is the canonical identity: two reports of the same
// species can differ in name casing but share a code.
type Observation struct {
	CommonName     string `json:"common_name"`
	ScientificName string `json:"scientific_name"`
	HowMany        int    `json:"how_many"`
	ObservedAt     string `json:"observed_at"` // provider-local "YYYY-MM-DD HH:mm"
	ObsHour        *int   `json:"obs_hour"`    // nil when the timestamp had no parseable time part
	LocationName   string `json:"location_name"`
	SpeciesCode    string `json:"species_code"`
}

// Weather is the snapshot the activity scorer works from, supplied by the
// caller (query params or the client's live weather) or defaulted.
type Weather struct {
	TempC           float64 `json:"temp_c"`
	RainProbability float64 `json:"rain_probability"`
	WindSpeedMS     float64 `json:"wind_speed_ms"`
	CloudPercent    float64 `json:"cloud_percent"`
}

// DefaultWeather is used when the caller supplies no overrides.
func DefaultWeather() Weather {
	return Weather{TempC: 10, RainProbability: 0, WindSpeedMS: 0, CloudPercent: 50}
}

type ActivityPoint struct {
	Hour  int    `json:"hour"`
	Score int    `json:"score"`
	Label string `json:"label"`
}

type CurrentActivity struct {
	ActivityPoint
	Level string `json:"level"` // "low", "moderate" or "high"
}

type Peak struct {
	Hour  int `json:"hour"`
	Score int `json:"score"`
}

type ActivityCurve struct {
	Curve    [24]ActivityPoint `json:"curve"`
	Current  CurrentActivity   `json:"current"`
	DawnPeak Peak              `json:"dawn_peak"`
	DuskPeak Peak              `json:"dusk_peak"`
}

// ObservationSet is what the server caches per coordinate bucket: the
// normalized observations plus the search radius that actually produced them.
type ObservationSet struct {
	Observations []Observation `json:"observations"`
	RadiusKm     int           `json:"radius_km"`
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BirdsReport is the /birds response payload, shared with the client mirror.
type BirdsReport struct {
	GeneratedAt         time.Time     `json:"generated_at"`
	Location            Coordinates   `json:"location"`
	NotableSpecies      []Observation `json:"notable_species"`
	AllSpecies          []Observation `json:"all_species"`
	TotalSpeciesCount   int           `json:"total_species_count"`
	ObservationRadiusKm int           `json:"observation_radius_km"`
	Activity            ActivityCurve `json:"activity"`
}
