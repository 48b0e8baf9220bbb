package coretest

import (
	"context"
	"sync"

	"github.com/JonMunkholm/hpsync/internal/core"
)

// Settings is an in-memory core.SettingsStore.
type Settings struct {
	mu     sync.Mutex
	values map[string]string
}

var _ core.SettingsStore = (*Settings)(nil)

// NewSettings returns a store holding a copy of values.
func NewSettings(values map[string]string) *Settings {
	s := &Settings{values: make(map[string]string, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

func (s *Settings) GetSettings(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out, nil
}

func (s *Settings) SetSetting(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	return nil
}
