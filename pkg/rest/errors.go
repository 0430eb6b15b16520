package rest

import "fmt"

// APIError carries the HTTP status of a failed request together with the
// code and message of the first error reported in the GraphQL payload.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d, code %s)", e.Message, e.Status, e.Code)
}

// FatalError is an API failure that must not be retried.
type FatalError struct {
	APIError
}

// RetryableError is a transient API failure. Execute surfaces it without
// consuming its own retry budget; the caller decides whether and when to
// retry.
type RetryableError struct {
	APIError
}

// InvalidCredentialsError is a fatal failure signalling that the access
// token is not valid. Callers should stop retrying entirely.
type InvalidCredentialsError struct {
	FatalError
}

// Unwrap lets errors.As treat an InvalidCredentialsError as a FatalError.
func (e *InvalidCredentialsError) Unwrap() error {
	return &e.FatalError
}
