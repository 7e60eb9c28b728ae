package digest

import "errors"

// Digest errors.
var (
	ErrRunInProgress    = errors.New("digest run already in progress")
	ErrInvalidFrequency = errors.New("invalid digest frequency")
)
