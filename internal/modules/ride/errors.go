package ride

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("invalid ride request")
	ErrRideNotFound      = errors.New("ride not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrRideNoLongerAvailable is returned to every accept that lost the race.
	ErrRideNoLongerAvailable = fmt.Errorf("%w: ride no longer available", ErrInvalidTransition)
	ErrNotAssignedDriver     = errors.New("driver is not assigned to this ride")
	ErrNotRideClient         = errors.New("client does not own this ride")
	ErrDriverUnavailable     = errors.New("driver unavailable")
	ErrDriverNotFound        = errors.New("driver not found")
	ErrConflict              = errors.New("ride state conflict")
)
