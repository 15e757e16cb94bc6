package domain

import "errors"

var (
	// ErrInvalidScenario indicates a scenario definition is missing or has malformed fields.
	ErrInvalidScenario = errors.New("invalid scenario")
	// ErrInvalidSession indicates a stored session lacks the data needed to run a turn.
	ErrInvalidSession = errors.New("invalid session")
	// ErrInvalidRequest indicates caller-supplied input is missing or malformed.
	ErrInvalidRequest = errors.New("invalid request")
)
