package sinks

import "context"

// Sink delivers accepted events to a downstream consumer (HTTP, SQS, etc).
type Sink interface {
	ID() string
	Type() string
	Send(ctx context.Context, evt Event) error
}
