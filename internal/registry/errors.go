package registry

import "errors"

var (
	ErrControllerNotFound = errors.New("controller not found")
	ErrLampNotFound       = errors.New("lamp not found")
	ErrScheduleNotFound   = errors.New("schedule not found")
	ErrPinInUse           = errors.New("pin already used on this controller")
	ErrInvalid            = errors.New("invalid input")
	// ErrStaleObservation means the controller's address or secret changed
	// after the probe was issued.
	ErrStaleObservation = errors.New("observation targets a previous controller address")
)
