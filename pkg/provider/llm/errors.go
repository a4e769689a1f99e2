package llm

import "errors"

// ErrRateLimited is wrapped by provider errors caused by an upstream HTTP 429.
// The evaluation service maps it to its own 429 response so clients apply
// their retry policy.
var ErrRateLimited = errors.New("llm: rate limited")
