// Package callcontrol defines the outbound call-control surface used to speak
// back into a live call.
package callcontrol

import "context"

// Controller triggers actions on the telephony platform.
type Controller interface {
	// PlayAnnouncement speaks text into the call identified by callId.
	PlayAnnouncement(ctx context.Context, callId, text string) error
}
