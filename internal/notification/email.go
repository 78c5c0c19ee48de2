package notification

import (
	"context"
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"strconv"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/fieldsense/alertd/internal/errors"
)

// EmailConfig describes the SMTP relay.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// messageSender is the subset of the shoutrrr router used for delivery.
type messageSender interface {
	Send(message string, params *types.Params) []error
}

// EmailProvider sends alerts over SMTP using a shoutrrr smtp:// URL built per
// recipient.
type EmailProvider struct {
	cfg       EmailConfig
	newSender func(rawURL string) (messageSender, error)
}

// NewEmailProvider creates an SMTP email provider.
func NewEmailProvider(cfg EmailConfig) *EmailProvider {
	return &EmailProvider{
		cfg: cfg,
		newSender: func(rawURL string) (messageSender, error) {
			return shoutrrr.CreateSender(rawURL)
		},
	}
}

func (p *EmailProvider) Name() string { return "smtp" }

func (p *EmailProvider) ValidateConfig() error {
	if p.cfg.Host == "" {
		return errors.New("smtp host is required")
	}
	if p.cfg.Port <= 0 || p.cfg.Port > 65535 {
		return fmt.Errorf("invalid smtp port %d", p.cfg.Port)
	}
	if _, err := mail.ParseAddress(p.cfg.From); err != nil {
		return fmt.Errorf("invalid from address %q: %w", p.cfg.From, err)
	}
	return nil
}

func (p *EmailProvider) ValidateDestination(destination string) error {
	if _, err := mail.ParseAddress(destination); err != nil {
		return fmt.Errorf("invalid email address %q: %w", destination, err)
	}
	return nil
}

// serviceURL builds the shoutrrr smtp URL for one recipient.
func (p *EmailProvider) serviceURL(destination, subject string) string {
	u := url.URL{
		Scheme: "smtp",
		Host:   net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port)),
		Path:   "/",
	}
	if p.cfg.Username != "" {
		u.User = url.UserPassword(p.cfg.Username, p.cfg.Password)
	}
	q := url.Values{}
	q.Set("fromaddress", p.cfg.From)
	q.Set("toaddresses", destination)
	q.Set("subject", subject)
	u.RawQuery = q.Encode()
	return u.String()
}

// Send delivers the plain text body. shoutrrr is not context aware, so the
// send runs in its own goroutine and ctx only bounds the wait.
func (p *EmailProvider) Send(ctx context.Context, destination string, msg *Message) error {
	sender, err := p.newSender(p.serviceURL(destination, msg.Title))
	if err != nil {
		return fmt.Errorf("failed to create smtp sender: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- errors.Join(sender.Send(msg.Text, &types.Params{})...)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp delivery to %s failed: %w", destination, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp delivery to %s: %w", destination, ctx.Err())
	}
}
