package notification

import (
	"github.com/fieldsense/alertd/internal/conf"
	"github.com/fieldsense/alertd/internal/datastore/entities"
)

// ProvidersFromSettings builds the rate limited providers of every enabled
// channel.
func ProvidersFromSettings(settings conf.NotificationSettings) map[string]Provider {
	providers := make(map[string]Provider)
	if e := settings.Email; e.Enabled {
		providers[entities.ChannelEmail] = WithRateLimit(NewEmailProvider(EmailConfig{
			Host:     e.Host,
			Port:     e.Port,
			Username: e.Username,
			Password: e.Password,
			From:     e.From,
		}), e.RateLimit, e.Burst)
	}
	if s := settings.SMS; s.Enabled {
		providers[entities.ChannelSMS] = WithRateLimit(NewSMSProvider(SMSConfig{
			Endpoint: s.Endpoint,
			APIKey:   s.APIKey,
			From:     s.From,
		}), s.RateLimit, s.Burst)
	}
	return providers
}
