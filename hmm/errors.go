package hmm

import "github.com/pkg/errors"

var (
	// ErrContractViolation is returned when a symbol outside the alphabets
	// is submitted to a model that cannot grow
	ErrContractViolation = errors.New("symbol not in model alphabet")
	// ErrDimensionMismatch is returned when tables do not match the alphabets
	ErrDimensionMismatch = errors.New("table dimensions do not match alphabets")
	// ErrFitFailed is returned when the EM engine cannot produce an estimate
	ErrFitFailed = errors.New("model fit failed")
	// ErrEmptyModel is returned when sampling a model without states
	ErrEmptyModel = errors.New("model has no states or observations")
	// ErrInvalidCount is returned for non-positive sample counts
	ErrInvalidCount = errors.New("sample count must be positive")
	// ErrInvalidWeight is returned for blend weights outside 0..100
	ErrInvalidWeight = errors.New("blend weight must be within 0..100")
	// ErrUnknownStrategy is returned for unknown initialization strategies
	ErrUnknownStrategy = errors.New("unknown initialization strategy")
)
