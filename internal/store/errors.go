package store

import "errors"

var (
	ErrInvalidCategory    = errors.New("invalid service category")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrNoToken            = errors.New("no token available")
	ErrTokenNotFound      = errors.New("token not found")
	ErrInvalidState       = errors.New("invalid token state")
	ErrCounterNotFound    = errors.New("counter not found")
	ErrCounterOccupied    = errors.New("counter already occupied")
	ErrCounterUnavailable = errors.New("counter unavailable")
)
