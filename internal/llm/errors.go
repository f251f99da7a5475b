package llm

import "errors"

var (
	// ErrGenerationFailed wraps every failure to produce a GenerationResult:
	// transport errors, authentication failures, an open circuit and
	// unparsable responses.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrUnauthorized is returned when the backend rejects the API key.
	ErrUnauthorized = errors.New("backend rejected credentials")

	// ErrInvalidResponse is returned when the model output has no usable
	// conversation_starters envelope.
	ErrInvalidResponse = errors.New("invalid model response")

	// ErrEmptyResponse is returned when the backend answers with no content.
	ErrEmptyResponse = errors.New("backend returned empty content")
)
