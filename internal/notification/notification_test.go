package notification

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsense/alertd/internal/conf"
	alerterrors "github.com/fieldsense/alertd/internal/errors"
)

const gatewayURL = "https://sms.example.test/v1/messages"

func newTestSMSProvider(t *testing.T) *SMSProvider {
	t.Helper()
	p := NewSMSProvider(SMSConfig{Endpoint: gatewayURL, APIKey: "secret", From: "FieldSense"})
	httpmock.ActivateNonDefault(p.Client().GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return p
}

func TestSMSProvider_Send(t *testing.T) {
	p := newTestSMSProvider(t)

	var got smsRequest
	var auth string
	httpmock.RegisterResponder(http.MethodPost, gatewayURL, func(req *http.Request) (*http.Response, error) {
		auth = req.Header.Get("Authorization")
		if err := httpmockDecode(req, &got); err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, ""), nil
		}
		return httpmock.NewJsonResponse(http.StatusAccepted, smsResponse{ID: "msg-1", Status: "queued"})
	})

	err := p.Send(t.Context(), "+15550100", &Message{Title: "Soil Moisture alert", Text: "Soil moisture is 24.0%"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "+15550100", got.To)
	assert.Equal(t, "FieldSense", got.From)
	assert.Equal(t, "Soil moisture is 24.0%", got.Text)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestSMSProvider_GatewayError(t *testing.T) {
	p := newTestSMSProvider(t)

	httpmock.RegisterResponder(http.MethodPost, gatewayURL,
		httpmock.NewJsonResponderOrPanic(http.StatusUnprocessableEntity, smsResponse{Message: "unroutable number"}))

	err := p.Send(t.Context(), "+15550100", &Message{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "unroutable number")
}

func TestSMSProvider_TruncatesLongText(t *testing.T) {
	p := newTestSMSProvider(t)

	var got smsRequest
	httpmock.RegisterResponder(http.MethodPost, gatewayURL, func(req *http.Request) (*http.Response, error) {
		_ = httpmockDecode(req, &got)
		return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
	})

	require.NoError(t, p.Send(t.Context(), "+15550100", &Message{Text: strings.Repeat("a", 1000)}))
	assert.Len(t, []rune(got.Text), SMSMaxLength)
	assert.True(t, strings.HasSuffix(got.Text, "…"))
}

func TestSMSProvider_Validation(t *testing.T) {
	t.Parallel()

	assert.Error(t, NewSMSProvider(SMSConfig{}).ValidateConfig())
	assert.Error(t, NewSMSProvider(SMSConfig{Endpoint: "ftp://gw"}).ValidateConfig())
	assert.NoError(t, NewSMSProvider(SMSConfig{Endpoint: gatewayURL}).ValidateConfig())

	p := NewSMSProvider(SMSConfig{Endpoint: gatewayURL})
	assert.NoError(t, p.ValidateDestination("+358401234567"))
	assert.Error(t, p.ValidateDestination("call me"))
}

type fakeSender struct {
	mu       sync.Mutex
	messages []string
	errs     []error
	block    chan struct{}
}

func (f *fakeSender) Send(message string, _ *types.Params) []error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return f.errs
}

func newTestEmailProvider(sender *fakeSender, urls *[]string) *EmailProvider {
	p := NewEmailProvider(EmailConfig{
		Host:     "smtp.example.test",
		Port:     587,
		Username: "alerts",
		Password: "p@ss",
		From:     "alerts@example.test",
	})
	p.newSender = func(rawURL string) (messageSender, error) {
		*urls = append(*urls, rawURL)
		return sender, nil
	}
	return p
}

func TestEmailProvider_Send(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{errs: []error{nil}}
	var urls []string
	p := newTestEmailProvider(sender, &urls)

	require.NoError(t, p.ValidateConfig())
	err := p.Send(t.Context(), "grower@example.test", &Message{Title: "CRITICAL: CO2 alert", Text: "CO2 is 1200 ppm"})
	require.NoError(t, err)

	require.Len(t, urls, 1)
	u, err := url.Parse(urls[0])
	require.NoError(t, err)
	assert.Equal(t, "smtp", u.Scheme)
	assert.Equal(t, "smtp.example.test:587", u.Host)
	assert.Equal(t, "grower@example.test", u.Query().Get("toaddresses"))
	assert.Equal(t, "alerts@example.test", u.Query().Get("fromaddress"))
	assert.Equal(t, "CRITICAL: CO2 alert", u.Query().Get("subject"))
	assert.Equal(t, []string{"CO2 is 1200 ppm"}, sender.messages)
}

func TestEmailProvider_ServiceURLParsesWithShoutrrr(t *testing.T) {
	t.Parallel()

	p := NewEmailProvider(EmailConfig{Host: "smtp.example.test", Port: 25, From: "alerts@example.test"})
	_, err := shoutrrr.CreateSender(p.serviceURL("grower@example.test", "Air Temperature alert"))
	assert.NoError(t, err)
}

func TestEmailProvider_SendError(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{errs: []error{errors.New("535 authentication failed")}}
	var urls []string
	p := newTestEmailProvider(sender, &urls)

	err := p.Send(t.Context(), "grower@example.test", &Message{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "535")
}

func TestEmailProvider_SendHonoursContext(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{block: make(chan struct{})}
	defer close(sender.block)
	var urls []string
	p := newTestEmailProvider(sender, &urls)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	err := p.Send(ctx, "grower@example.test", &Message{Text: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEmailProvider_Validation(t *testing.T) {
	t.Parallel()

	assert.Error(t, NewEmailProvider(EmailConfig{Port: 25, From: "a@b.c"}).ValidateConfig())
	assert.Error(t, NewEmailProvider(EmailConfig{Host: "h", Port: 0, From: "a@b.c"}).ValidateConfig())
	assert.Error(t, NewEmailProvider(EmailConfig{Host: "h", Port: 25, From: "nobody"}).ValidateConfig())

	p := NewEmailProvider(EmailConfig{})
	assert.NoError(t, p.ValidateDestination("grower@example.test"))
	assert.Error(t, p.ValidateDestination("not-an-address"))
}

type stubProvider struct {
	name    string
	err     error
	invalid bool
	sent    []string
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) ValidateConfig() error {
	if s.invalid {
		return errors.New("missing credentials")
	}
	return nil
}
func (s *stubProvider) ValidateDestination(string) error { return nil }
func (s *stubProvider) Send(_ context.Context, destination string, _ *Message) error {
	s.sent = append(s.sent, destination)
	return s.err
}

func TestService_RoutesByChannel(t *testing.T) {
	t.Parallel()

	email := &stubProvider{name: "email"}
	sms := &stubProvider{name: "sms", err: errors.New("gateway down")}
	broken := &stubProvider{name: "push", invalid: true}

	svc := NewService(&ServiceConfig{Providers: map[string]Provider{
		"email": email,
		"sms":   sms,
		"push":  broken,
	}})

	assert.Equal(t, []string{"email", "sms"}, svc.Channels())

	require.NoError(t, svc.Send(t.Context(), "email", "a@example.test", &Message{}))
	assert.Equal(t, []string{"a@example.test"}, email.sent)

	err := svc.Send(t.Context(), "sms", "+15550100", &Message{})
	require.Error(t, err)
	assert.Equal(t, alerterrors.CategoryDispatch, alerterrors.CategoryOf(err))

	err = svc.Send(t.Context(), "push", "device-token", &Message{})
	assert.ErrorIs(t, err, ErrChannelNotConfigured)
}

func TestWithRateLimit(t *testing.T) {
	t.Parallel()

	stub := &stubProvider{name: "sms"}
	assert.Same(t, Provider(stub), WithRateLimit(stub, 0, 0))

	limited := WithRateLimit(stub, 0.001, 1)
	require.NoError(t, limited.Send(t.Context(), "+1", &Message{}))

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	err := limited.Send(ctx, "+2", &Message{})
	require.Error(t, err, "second send must wait far longer than the deadline")
	assert.Equal(t, []string{"+1"}, stub.sent)
	assert.Equal(t, "sms", limited.Name())
}

func TestGlobalService(t *testing.T) {
	ResetForTesting()
	t.Cleanup(ResetForTesting)

	assert.False(t, IsInitialized())
	svc := NewService(nil)
	require.NoError(t, SetServiceForTesting(svc))
	assert.Same(t, svc, GetService())
	assert.Error(t, SetServiceForTesting(NewService(nil)))
}

func TestProvidersFromSettings(t *testing.T) {
	t.Parallel()

	assert.Empty(t, ProvidersFromSettings(conf.NotificationSettings{}))

	providers := ProvidersFromSettings(conf.NotificationSettings{
		Email: conf.EmailSettings{Enabled: true, Host: "smtp.example.test", Port: 587, From: "alerts@example.test", RateLimit: 5, Burst: 10},
		SMS:   conf.SMSSettings{Enabled: true, Endpoint: gatewayURL, APIKey: "k"},
	})
	require.Len(t, providers, 2)
	assert.Equal(t, "smtp", providers["email"].Name())
	assert.Equal(t, "sms-gateway", providers["sms"].Name())
	assert.NoError(t, providers["email"].ValidateConfig())
	assert.NoError(t, providers["sms"].ValidateConfig())
}
