package email

import "context"

type Provider interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

type NoOpProvider struct{}

func (NoOpProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	return nil
}
