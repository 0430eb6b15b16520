package voltstream

import (
	"context"

	"github.com/voltstream/voltstream.go/pkg/connection"
)

// Home is a thin handle on one home known to the account. Handles are
// created by UpdateInfo and shared; a later UpdateInfo refreshes them in
// place.
type Home struct {
	id       string
	nickname string
	active   bool
	client   *Client
}

// ID returns the home id.
func (h *Home) ID() string {
	return h.id
}

// Nickname returns the name the owner gave the home in the app.
func (h *Home) Nickname() string {
	return h.nickname
}

// Active reports whether the home has a running subscription. Only active
// homes produce live measurements.
func (h *Home) Active() bool {
	return h.active
}

// MeasurementStream subscribes to the home's live measurements. The
// realtime connection must be up; see Client.Connect.
func (h *Home) MeasurementStream(ctx context.Context) (*connection.Stream, error) {
	return h.client.manager.Subscribe(ctx, liveMeasurementSubscription, map[string]any{
		"homeId": h.id,
	})
}
