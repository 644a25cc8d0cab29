package domain

import "errors"

var (
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInsufficientAvailable  = errors.New("insufficient available quantity")
	ErrOverAllocation         = errors.New("over-allocation")
	ErrInvalidAssignmentState = errors.New("invalid assignment state")
	ErrNotFound               = errors.New("not found")
	ErrDuplicateRequest       = errors.New("duplicate request")
	ErrStorageUnavailable     = errors.New("storage unavailable")
)
