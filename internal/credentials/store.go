package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/LeventeLantos/social-dispatch/internal/model"
	"github.com/LeventeLantos/social-dispatch/internal/provider"
)

var ErrNotConfigured = errors.New("platform is not configured")

// Store holds one credential set per platform. Reads are concurrent;
// writes come from startup configuration.
type Store struct {
	adapters *provider.Registry

	mu    sync.RWMutex
	creds map[model.Platform]model.Credentials
}

func NewStore(adapters *provider.Registry) *Store {
	return &Store{
		adapters: adapters,
		creds:    make(map[model.Platform]model.Credentials),
	}
}

// Get returns the credentials of p. A missing or disabled set is reported
// as ErrNotConfigured.
func (s *Store) Get(p model.Platform) (model.Credentials, error) {
	s.mu.RLock()
	c, ok := s.creds[p]
	s.mu.RUnlock()

	if !ok || !c.Enabled {
		return model.Credentials{}, fmt.Errorf("%s: %w", p, ErrNotConfigured)
	}
	return c, nil
}

func (s *Store) Set(p model.Platform, c model.Credentials) {
	c.Platform = p

	s.mu.Lock()
	s.creds[p] = c
	s.mu.Unlock()
}

// TestConnection checks the stored credentials of p against the provider.
func (s *Store) TestConnection(ctx context.Context, p model.Platform) provider.ConnectionStatus {
	a, ok := s.adapters.Get(p)
	if !ok {
		return provider.ConnectionStatus{Detail: fmt.Sprintf("no adapter for platform %q", p)}
	}

	c, err := s.Get(p)
	if err != nil {
		return provider.ConnectionStatus{Detail: err.Error()}
	}
	return a.TestConnection(ctx, c)
}

type fileFormat struct {
	Platforms []model.Credentials `yaml:"platforms"`
}

// LoadFile reads credential sets from a YAML document:
//
//	platforms:
//	  - platform: whatsapp
//	    enabled: true
//	    access_token: ...
//	    phone_number_id: ...
func LoadFile(path string) ([]model.Credentials, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f fileFormat
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make([]model.Credentials, 0, len(f.Platforms))
	for i, c := range f.Platforms {
		p, err := model.ParsePlatform(string(c.Platform))
		if err != nil {
			return nil, fmt.Errorf("%s: entry %d: %w", path, i, err)
		}
		c.Platform = p
		out = append(out, c)
	}
	return out, nil
}
