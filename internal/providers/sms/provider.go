package sms

import "context"

type Provider interface {
	Send(ctx context.Context, to, body string) error
}

type NoOpProvider struct{}

func (NoOpProvider) Send(ctx context.Context, to, body string) error {
	return nil
}
