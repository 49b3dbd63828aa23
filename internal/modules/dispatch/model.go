// README: Dispatch candidates ranked by distance from the pickup point.
package dispatch

import (
	"rebeca/internal/modules/driver"
)

// DefaultLimit is used when a caller passes a non-positive limit and no
// configured default was given.
const DefaultLimit = 5

type Candidate struct {
	Driver     driver.Driver `json:"driver"`
	DistanceKm float64       `json:"distance_km"`
}
