package notify

import "context"

// Intent is a request to deliver text to one chat-platform identity. The
// engine never branches on platform; formatting is the sink's problem.
type Intent struct {
	Platform       string `json:"platform"`
	PlatformUserID string `json:"platformUserId"`
	Text           string `json:"text"`
}

// Sink accepts notification intents best-effort. Delivery failure must not
// roll back the state transition that produced the intent, and the engine
// never retries: redelivery belongs to the sink side.
type Sink interface {
	Deliver(ctx context.Context, intent Intent) error
	Shutdown()
}
