package notify

import "context"

// Provider delivers operator notifications. Callers treat failures as
// best-effort.
type Provider interface {
	Notify(ctx context.Context, channel string, message string) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Notify(ctx context.Context, channel string, message string) error {
	return nil
}
