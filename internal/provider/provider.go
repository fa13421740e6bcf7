// Package provider is the seam between the dispatcher and the external
// messaging API.
package provider

import "context"

// Sender submits one message. raw is the decoded provider response, kept for
// the audit trail and never interpreted beyond the returned id.
type Sender interface {
	Send(ctx context.Context, to, body string) (providerMessageID string, raw any, err error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to, body string) (string, any, error)

func (f SenderFunc) Send(ctx context.Context, to, body string) (string, any, error) {
	return f(ctx, to, body)
}
