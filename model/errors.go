package model

import (
	"errors"
	"fmt"
)

// Error classes. Every domain error wraps exactly one of these so transport
// layers can map failures with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidParameters   = errors.New("invalid parameters")
	ErrUnprocessableEntity = errors.New("unprocessable entity")
	ErrDuplicateSchedule   = errors.New("schedule already exists")
	ErrRequestTimeout      = errors.New("request timed out")
	ErrUnauthorized        = errors.New("unauthorized")
)

var (
	ErrObservatoryNotFound        = fmt.Errorf("observatory %w", ErrNotFound)
	ErrTelescopeNotFound          = fmt.Errorf("telescope %w", ErrNotFound)
	ErrInstrumentNotFound         = fmt.Errorf("instrument %w", ErrNotFound)
	ErrScheduleNotFound           = fmt.Errorf("schedule %w", ErrNotFound)
	ErrObservationNotFound        = fmt.Errorf("observation %w", ErrNotFound)
	ErrTLENotFound                = fmt.Errorf("tle %w", ErrNotFound)
	ErrScheduleInstrumentNotFound = fmt.Errorf("schedule instrument %w", ErrNotFound)

	ErrInvalidObservationReadParameters = fmt.Errorf("%w: bandpass, cone search, depth and pagination parameters must be supplied together", ErrInvalidParameters)
)
