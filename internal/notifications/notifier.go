package notifications

import "context"

// Message is a fully rendered email. JobID travels with it so transports that
// support it can deduplicate on their side too.
type Message struct {
	JobID   string `json:"jobId"`
	Kind    string `json:"kind"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
