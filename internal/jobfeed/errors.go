package jobfeed

import "errors"

// Feed errors.
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrFeedUnsupported = errors.New("job change feed is not installed")
)
