package notification

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/fieldsense/alertd/internal/errors"
	"github.com/fieldsense/alertd/internal/logger"
)

var (
	instance *Service
	once     sync.Once
	mu       sync.RWMutex
)

// ServiceConfig lists the providers to register, keyed by channel.
type ServiceConfig struct {
	Providers map[string]Provider
	Log       logger.Logger
}

// Service routes messages to the provider registered for a channel.
type Service struct {
	mu        sync.RWMutex
	providers map[string]Provider
	log       logger.Logger
}

// NewService creates a service and registers every valid provider from
// config. Providers that fail validation are logged and skipped.
func NewService(config *ServiceConfig) *Service {
	s := &Service{providers: make(map[string]Provider)}
	if config == nil {
		return s
	}
	s.log = config.Log
	for channel, p := range config.Providers {
		if err := s.Register(channel, p); err != nil && s.log != nil {
			s.log.Warn("notification provider disabled",
				logger.String("channel", channel),
				logger.String("provider", p.Name()),
				logger.Error(err))
		}
	}
	return s
}

// Register validates p and makes it the provider for channel.
func (s *Service) Register(channel string, p Provider) error {
	if p == nil {
		return fmt.Errorf("nil provider for channel %s", channel)
	}
	if err := p.ValidateConfig(); err != nil {
		return errors.Wrap(errors.CategoryConfiguration, "register "+channel+" provider", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[channel] = p
	return nil
}

// Provider returns the provider for channel.
func (s *Service) Provider(channel string) (Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[channel]
	return p, ok
}

// Channels returns the configured channels, sorted.
func (s *Service) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channels := lo.Keys(s.providers)
	slices.Sort(channels)
	return channels
}

// Send delivers msg through the provider registered for channel.
func (s *Service) Send(ctx context.Context, channel, destination string, msg *Message) error {
	p, ok := s.Provider(channel)
	if !ok {
		return fmt.Errorf("%s: %w", channel, ErrChannelNotConfigured)
	}
	if err := p.ValidateDestination(destination); err != nil {
		return errors.Wrap(errors.CategoryConfiguration, "validate destination", err)
	}
	if err := p.Send(ctx, destination, msg); err != nil {
		return errors.Wrap(errors.CategoryDispatch, p.Name()+" send", err)
	}
	return nil
}

// Initialize sets up the global notification service instance
func Initialize(config *ServiceConfig) {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		instance = NewService(config)
	})
}

// GetService returns the global notification service instance
func GetService() *Service {
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// SetServiceForTesting allows setting a custom service instance for testing only
// It returns an error if the service is already initialized in production
func SetServiceForTesting(service *Service) error {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return fmt.Errorf("notification service already initialized")
	}

	instance = service
	return nil
}

// ResetForTesting clears the global instance.
func ResetForTesting() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	once = sync.Once{}
}

// IsInitialized checks if the notification service has been initialized
func IsInitialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return instance != nil
}
