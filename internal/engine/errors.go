package engine

import "errors"

var (
	// ErrEmptyTitle is returned when a mission title is empty after trimming.
	ErrEmptyTitle = errors.New("mission title is required")

	// ErrMissionActive is returned when starting a mission while another one
	// is already in progress for the same owner.
	ErrMissionActive = errors.New("another mission is already in progress")

	// ErrInvalidTransition is returned for a status change the lifecycle does
	// not allow.
	ErrInvalidTransition = errors.New("invalid mission status transition")

	// ErrUnknownTemplate is returned when a template ID is not built in.
	ErrUnknownTemplate = errors.New("unknown mission template")
)
