package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldsense/alertd/internal/datastore/entities"
	"github.com/fieldsense/alertd/internal/errors"
	"github.com/fieldsense/alertd/internal/logger"
	"github.com/fieldsense/alertd/internal/telemetry"
)

// Key identifies one suppression state.
type Key struct {
	UserID    string
	RuleID    uint
	Parameter telemetry.Parameter
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%s", k.UserID, k.RuleID, k.Parameter)
}

// State holds the suppression timestamps of one key. Zero means never.
type State struct {
	// LastDebounceAt is the last match that passed the debounce gate.
	LastDebounceAt time.Time
	// LastCooldownAt is the last firing that was actually attempted.
	LastCooldownAt time.Time
}

// SuppressionStore persists State per key and serialises access to a key.
// Implementations must never hold a lock spanning more than one key.
type SuppressionStore interface {
	// Lock acquires the key's lock. The returned unlock is idempotent.
	Lock(ctx context.Context, key Key) (unlock func(), err error)
	Load(ctx context.Context, key Key) (State, error)
	Save(ctx context.Context, key Key, state State) error
	// Reset drops every state. Administrative use only.
	Reset(ctx context.Context) error
}

// HistoryChecker answers whether a rule fired recently according to the
// persisted alert history.
type HistoryChecker interface {
	LatestTriggeredAt(ctx context.Context, userID string, ruleID uint, origin string, since time.Time) (time.Time, bool, error)
}

// Windows are the suppression intervals.
type Windows struct {
	Debounce             time.Duration
	Cooldown             time.Duration
	SoilMoistureCooldown time.Duration
	// PersistedAllParameters applies the history check to every parameter
	// instead of soil moisture only.
	PersistedAllParameters bool
}

// DefaultWindows returns the built-in windows.
func DefaultWindows() Windows {
	return Windows{
		Debounce:               DefaultDebounceWindow,
		Cooldown:               DefaultCooldownWindow,
		SoilMoistureCooldown:   DefaultCooldownWindow,
		PersistedAllParameters: true,
	}
}

// CooldownFor returns the cooldown window of a parameter.
func (w Windows) CooldownFor(p telemetry.Parameter) time.Duration {
	if p == telemetry.SoilMoisture && w.SoilMoistureCooldown > 0 {
		return w.SoilMoistureCooldown
	}
	return w.Cooldown
}

// Longest is the largest window, used as the state retention TTL.
func (w Windows) Longest() time.Duration {
	return max(w.Debounce, w.Cooldown, w.SoilMoistureCooldown)
}

func (w Windows) checksHistory(p telemetry.Parameter) bool {
	return p == telemetry.SoilMoisture || w.PersistedAllParameters
}

// Decision is the outcome of a suppression check.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

func deny(reason string, retryAfter time.Duration) Decision {
	return Decision{Reason: reason, RetryAfter: retryAfter}
}

// Suppressor applies the debounce and cooldown gates.
type Suppressor struct {
	store   SuppressionStore
	history HistoryChecker
	windows Windows
	log     logger.Logger
}

// NewSuppressor creates a Suppressor. history may be nil, which disables the
// persisted cooldown check.
func NewSuppressor(store SuppressionStore, history HistoryChecker, windows Windows, log logger.Logger) *Suppressor {
	return &Suppressor{
		store:   store,
		history: history,
		windows: windows,
		log:     log.Module("suppression"),
	}
}

// Windows returns the configured windows.
func (s *Suppressor) Windows() Windows {
	return s.windows
}

// Guard decides whether key may fire at now and, when it may, commits both
// timestamps and runs fire while still holding the key lock. fire records the
// triggered alert; if it fails the previous state is restored and its error
// returned. The lock is released before Guard returns, so callers dispatch
// notifications without holding it.
//
// Test firings bypass every gate and never read or write state. Store
// failures deny with ReasonStoreError.
func (s *Suppressor) Guard(ctx context.Context, key Key, now time.Time, isTest bool, fire func(ctx context.Context) error) (Decision, error) {
	if isTest {
		return Decision{Allowed: true}, fire(ctx)
	}

	log := s.log.With(logger.String("key", key.String()))

	unlock, err := s.store.Lock(ctx, key)
	if err != nil {
		log.Error("failed to lock suppression state", logger.Error(err))
		return deny(ReasonStoreError, 0), nil
	}
	defer unlock()

	prev, err := s.store.Load(ctx, key)
	if err != nil {
		log.Error("failed to load suppression state", logger.Error(err))
		return deny(ReasonStoreError, 0), nil
	}

	if !prev.LastDebounceAt.IsZero() {
		if elapsed := now.Sub(prev.LastDebounceAt); elapsed < s.windows.Debounce {
			return deny(ReasonDebounced, s.windows.Debounce-elapsed), nil
		}
	}

	next := prev
	next.LastDebounceAt = now
	cooldown := s.windows.CooldownFor(key.Parameter)

	if !prev.LastCooldownAt.IsZero() {
		if elapsed := now.Sub(prev.LastCooldownAt); elapsed < cooldown {
			s.saveDebounce(ctx, key, next, log)
			return deny(ReasonCooldown, cooldown-elapsed), nil
		}
	}

	if s.history != nil && s.windows.checksHistory(key.Parameter) {
		last, found, err := s.history.LatestTriggeredAt(ctx, key.UserID, key.RuleID, entities.OriginAuto, now.Add(-cooldown))
		if err != nil {
			log.Error("failed to check alert history for cooldown", logger.Error(err))
			return deny(ReasonStoreError, 0), nil
		}
		if found {
			if elapsed := now.Sub(last); elapsed < cooldown {
				s.saveDebounce(ctx, key, next, log)
				return deny(ReasonPersistedCooldown, cooldown-elapsed), nil
			}
		}
	}

	next.LastCooldownAt = now
	if err := s.store.Save(ctx, key, next); err != nil {
		log.Error("failed to save suppression state", logger.Error(err))
		return deny(ReasonStoreError, 0), nil
	}

	if err := fire(ctx); err != nil {
		if rbErr := s.store.Save(context.WithoutCancel(ctx), key, prev); rbErr != nil {
			log.Error("failed to restore suppression state after aborted firing", logger.Error(rbErr))
		}
		return Decision{Allowed: true}, err
	}
	return Decision{Allowed: true}, nil
}

// saveDebounce persists a debounce-only update. Failure is logged; the
// firing is denied either way.
func (s *Suppressor) saveDebounce(ctx context.Context, key Key, state State, log logger.Logger) {
	if err := s.store.Save(ctx, key, state); err != nil {
		log.Warn("failed to save debounce timestamp", logger.Error(err))
	}
}

// Peek returns the stored state of key without locking.
func (s *Suppressor) Peek(ctx context.Context, key Key) (State, error) {
	state, err := s.store.Load(ctx, key)
	if err != nil {
		return State{}, errors.Wrap(errors.CategorySuppressionStore, "load suppression state", err)
	}
	return state, nil
}

// Reset clears all suppression state.
func (s *Suppressor) Reset(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return errors.Wrap(errors.CategorySuppressionStore, "reset suppression state", err)
	}
	s.log.Info("suppression state reset")
	return nil
}
