package voltstream

import (
	"github.com/voltstream/voltstream.go/pkg/connection"
	"github.com/voltstream/voltstream.go/pkg/constants"
	"github.com/voltstream/voltstream.go/pkg/rest"
)

// Re-exported error types and sentinels, so that most consumers only need
// this package.

type (
	// APIError is the common shape of errors reported by the API.
	APIError = rest.APIError
	// FatalError marks a request that must not be retried.
	FatalError = rest.FatalError
	// RetryableError marks a request the server asked to have retried.
	RetryableError = rest.RetryableError
	// InvalidCredentialsError marks a rejected access token.
	InvalidCredentialsError = rest.InvalidCredentialsError
)

var (
	// ErrUserAgentMissing is returned by New when no user agent is given.
	ErrUserAgentMissing = constants.ErrUserAgentMissing

	// ErrReconnected terminates a stream whose connection was replaced.
	// Subscribe again to keep receiving data.
	ErrReconnected = connection.ErrReconnected

	// ErrTransportFailed terminates a stream whose connection is gone and
	// will not be reestablished.
	ErrTransportFailed = connection.ErrTransportFailed

	// ErrStreamClosed is returned by Next on an already-terminated stream.
	ErrStreamClosed = connection.ErrStreamClosed

	// ErrCompleted terminates a stream the server chose to end.
	ErrCompleted = connection.ErrCompleted
)
