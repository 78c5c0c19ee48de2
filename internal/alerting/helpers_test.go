package alerting

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/fieldsense/alertd/internal/datastore/entities"
	"github.com/fieldsense/alertd/internal/datastore/repository"
	"github.com/fieldsense/alertd/internal/logger"
	"github.com/fieldsense/alertd/internal/notification"
)

func testLogger() logger.Logger {
	return logger.NewZerologLogger(io.Discard, logger.LogLevelError, nil)
}

var baseTime = time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC)

// fakeClock is a settable clock shared by the engine and the test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: baseTime} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockRuleStore is an in-memory RuleStore.
type mockRuleStore struct {
	mu    sync.Mutex
	rules []entities.AlertRule
	err   error
}

func newMockRuleStore(rules ...entities.AlertRule) *mockRuleStore {
	return &mockRuleStore{rules: rules}
}

func (m *mockRuleStore) ActiveRulesFor(_ context.Context, userID string) ([]entities.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []entities.AlertRule
	for i := range m.rules {
		if m.rules[i].UserID == userID && m.rules[i].Active {
			out = append(out, m.rules[i])
		}
	}
	return out, nil
}

func (m *mockRuleStore) GetRule(_ context.Context, userID string, id uint) (*entities.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == id && m.rules[i].UserID == userID {
			rule := m.rules[i]
			return &rule, nil
		}
	}
	return nil, repository.ErrAlertRuleNotFound
}

// mockDevices is an in-memory DeviceRegistry.
type mockDevices struct {
	owners    map[string]string
	shared    map[string][]string
	sharedErr error
}

func (m *mockDevices) AuthorizedUsers(_ context.Context, deviceID string) ([]string, error) {
	owner, ok := m.owners[deviceID]
	if !ok {
		return nil, repository.ErrDeviceNotFound
	}
	if m.sharedErr != nil {
		return nil, m.sharedErr
	}
	users := []string{owner}
	for _, u := range m.shared[deviceID] {
		if !slices.Contains(users, u) {
			users = append(users, u)
		}
	}
	return users, nil
}

func (m *mockDevices) OwnerOf(_ context.Context, deviceID string) (string, error) {
	owner, ok := m.owners[deviceID]
	if !ok {
		return "", repository.ErrDeviceNotFound
	}
	return owner, nil
}

// mockHistory is an in-memory HistoryStore.
type mockHistory struct {
	mu        sync.Mutex
	alerts    []entities.TriggeredAlert
	saveErr   error
	latestErr error
	nextID    uint
}

func (m *mockHistory) Save(_ context.Context, alert *entities.TriggeredAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.nextID++
	alert.ID = m.nextID
	m.alerts = append(m.alerts, *alert)
	return nil
}

func (m *mockHistory) UpdateDeliveries(_ context.Context, alertID uint, _ string, deliveries []entities.AlertDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == alertID {
			m.alerts[i].Deliveries = slices.Clone(deliveries)
			return nil
		}
	}
	return repository.ErrTriggeredAlertNotFound
}

func (m *mockHistory) LatestTriggeredAt(_ context.Context, userID string, ruleID uint, origin string, since time.Time) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latestErr != nil {
		return time.Time{}, false, m.latestErr
	}
	var latest time.Time
	found := false
	for i := range m.alerts {
		a := &m.alerts[i]
		if a.UserID != userID || a.RuleID != ruleID || (origin != "" && a.Origin != origin) || a.CreatedAt.Before(since) {
			continue
		}
		if !found || a.CreatedAt.After(latest) {
			latest, found = a.CreatedAt, true
		}
	}
	return latest, found, nil
}

func (m *mockHistory) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.alerts[:0]
	var deleted int64
	for _, a := range m.alerts {
		if a.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	m.alerts = kept
	return deleted, nil
}

func (m *mockHistory) snapshot() []entities.TriggeredAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.alerts)
}

// recordingSender captures sends and can fail or panic on demand.
type recordingSender struct {
	mu    sync.Mutex
	sent  []sentMessage
	err   error
	panic bool
	delay time.Duration
}

type sentMessage struct {
	Destination string
	Message     *notification.Message
}

func (s *recordingSender) Send(ctx context.Context, destination string, msg *notification.Message) error {
	if s.panic {
		panic("sender exploded")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{Destination: destination, Message: msg})
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

var errBoom = errors.New("boom")

func soilRule(id uint, userID string) entities.AlertRule {
	return entities.AlertRule{
		ID:          id,
		UserID:      userID,
		Name:        "Dry soil",
		Parameter:   "soil-moisture-pct",
		Comparison:  "<",
		Threshold:   25,
		Channel:     entities.ChannelEmail,
		Destination: userID + "@example.test",
		Active:      true,
	}
}

func ptr[T any](v T) *T { return &v }
