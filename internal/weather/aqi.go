package weather

import "github.com/afroash/envmon/internal/models"

// DeriveAQI returns the arithmetic mean of the reported pollutant
// concentrations, or nil when none were reported.
//
// The inputs are not in one unit (co is reported on a different scale than
// the others), so the result is a composite figure rather than a true index.
// It is kept for continuity with rows already stored.
func DeriveAQI(aq *models.AirQuality) *float64 {
	if aq == nil {
		return nil
	}

	var sum float64
	var n int
	for _, p := range models.Pollutants {
		if v, ok := aq.Concentration(p); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return nil
	}

	mean := sum / float64(n)
	return &mean
}
