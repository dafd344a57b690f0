package referee

import "errors"

// Referee errors
var (
	ErrRegistrationFailed = errors.New("referee registration failed")
	ErrAtCapacity         = errors.New("referee at capacity")
	ErrUnsupportedGame    = errors.New("unsupported game type")
)
