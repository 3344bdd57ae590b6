package bridge

import "encoding/json"

// Event is the envelope carried on every bridge subject. Delivery is
// at-least-once; ID is the stable dedupe key consumers use to collapse
// redelivery to at-most-once per distinct event. Origin names the publishing
// process so subscribers can skip events they already fanned out locally.
type Event struct {
	ID          string          `json:"id"`
	Origin      string          `json:"origin"`
	ExcludeUser string          `json:"exclude_user,omitempty"` // user whose connections must not receive the payload
	Payload     json.RawMessage `json:"payload"`
}
