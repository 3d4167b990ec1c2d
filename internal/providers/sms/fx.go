package sms

import (
	"github.com/smallbiznis/tithi/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.sms",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	if cfg.SMSEndpoint == "" {
		return NoOpProvider{}
	}
	return NewWebhook(Config{
		Endpoint:  cfg.SMSEndpoint,
		AuthToken: cfg.SMSAuthToken,
	})
}
