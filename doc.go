// The [voltstream] package is a client SDK for the Voltstream energy API.
//
// # Two halves
//
// The HTTP half executes one-shot GraphQL documents via [Client.UpdateInfo]
// and [Client.SendPushNotification], retrying transient network failures
// with a bounded budget while surfacing server-side errors immediately as
// [FatalError], [RetryableError], or [InvalidCredentialsError].
//
// The realtime half maintains one graphql-transport-ws websocket shared by
// all subscriptions, supervised by a background reconnection loop with
// exponential backoff.
//
// # Usage
//
// Construct a [Client] with an access token and a user agent, then call
// [Client.UpdateInfo]: it discovers the account's homes and the realtime
// endpoint. After [Client.Connect], subscribe to live measurements per
// home via [Home.MeasurementStream] and pull data with
// [github.com/voltstream/voltstream.go/pkg/connection.Stream.Next].
//
// When Next returns [ErrReconnected], the websocket was replaced after a
// network failure; subscribe again to keep receiving data.
//
// # Lower-level packages
//
// [github.com/voltstream/voltstream.go/pkg/rest] executes GraphQL over
// HTTP, [github.com/voltstream/voltstream.go/pkg/connection] supervises
// the realtime connection, and
// [github.com/voltstream/voltstream.go/pkg/connection/gqlws] implements
// the wire protocol. All of them can be used without the facade.
package voltstream
