package notification

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fieldsense/alertd/internal/errors"
)

// SMSMaxLength caps the text sent to the gateway (two concatenated segments).
const SMSMaxLength = 306

var phoneNumberRe = regexp.MustCompile(`^\+?[0-9]{6,15}$`)

// SMSConfig describes the HTTP SMS gateway.
type SMSConfig struct {
	Endpoint string
	APIKey   string
	From     string
	Timeout  time.Duration
}

type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

type smsResponse struct {
	ID      string `json:"id,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// SMSProvider posts messages as JSON to a generic SMS gateway.
type SMSProvider struct {
	cfg    SMSConfig
	client *resty.Client
}

// NewSMSProvider creates an SMS provider.
func NewSMSProvider(cfg SMSConfig) *SMSProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &SMSProvider{cfg: cfg, client: client}
}

// Client exposes the resty client, e.g. for httpmock activation in tests.
func (p *SMSProvider) Client() *resty.Client {
	return p.client
}

func (p *SMSProvider) Name() string { return "sms-gateway" }

func (p *SMSProvider) ValidateConfig() error {
	if p.cfg.Endpoint == "" {
		return errors.New("sms gateway endpoint is required")
	}
	u, err := url.Parse(p.cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid sms gateway endpoint %q", p.cfg.Endpoint)
	}
	return nil
}

func (p *SMSProvider) ValidateDestination(destination string) error {
	if !phoneNumberRe.MatchString(destination) {
		return fmt.Errorf("invalid phone number %q", destination)
	}
	return nil
}

func (p *SMSProvider) Send(ctx context.Context, destination string, msg *Message) error {
	text := msg.Text
	if runes := []rune(text); len(runes) > SMSMaxLength {
		text = string(runes[:SMSMaxLength-1]) + "…"
	}

	var result, failure smsResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(smsRequest{To: destination, From: p.cfg.From, Text: text}).
		SetResult(&result).
		SetError(&failure).
		Post(p.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("sms gateway request failed: %w", err)
	}
	if resp.IsError() {
		if failure.Message != "" {
			return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode(), failure.Message)
		}
		return fmt.Errorf("sms gateway returned %d", resp.StatusCode())
	}
	return nil
}
