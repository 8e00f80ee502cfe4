// Package noop provides a Publisher that drops events.
package noop

import "context"

// Publisher accepts every event and publishes nothing.
type Publisher struct{}

// New creates a no-op publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish discards the payload.
func (p *Publisher) Publish(context.Context, string, any) (string, error) {
	return "noop", nil
}
