package core

import (
	"context"
	"fmt"
	"time"
)

// DefaultImportBatchSize is the number of rows written per insert batch.
const DefaultImportBatchSize = 250

// Options tunes a Service. Zero values use the defaults.
type Options struct {
	ImportBatchSize      int
	MaxConcurrentImports int
	ImportWaitTime       time.Duration

	// SystemActorID is recorded as the actor of event-driven changes.
	SystemActorID int64

	// Now stamps rows and history entries. Defaults to time.Now.
	Now func() time.Time
}

// Service is the entry point for imports, reconciliation and reports.
type Service struct {
	dir      Directory
	store    Store
	settings SettingsStore
	queue    Enqueuer
	limiter  *ImportLimiter

	batchSize     int
	systemActorID int64
	now           func() time.Time
}

// NewService wires the core against its collaborators. The queue may be set
// later with UseQueue when it needs the Service as its handler.
func NewService(dir Directory, store Store, settings SettingsStore, opts Options) *Service {
	if opts.ImportBatchSize <= 0 {
		opts.ImportBatchSize = DefaultImportBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		dir:           dir,
		store:         store,
		settings:      settings,
		limiter:       NewImportLimiter(opts.MaxConcurrentImports, opts.ImportWaitTime),
		batchSize:     opts.ImportBatchSize,
		systemActorID: opts.SystemActorID,
		now:           opts.Now,
	}
}

// UseQueue sets the queue deferred commands are placed on.
func (s *Service) UseQueue(q Enqueuer) {
	s.queue = q
}

// SystemActorID returns the actor used for event-driven changes.
func (s *Service) SystemActorID() int64 {
	return s.systemActorID
}

// Limiter exposes the import limiter for shutdown and monitoring.
func (s *Service) Limiter() *ImportLimiter {
	return s.limiter
}

// Settings returns the current plugin settings.
func (s *Service) Settings(ctx context.Context) (Settings, error) {
	return LoadSettings(ctx, s.settings)
}

// RawSettings returns the stored settings without defaults applied.
func (s *Service) RawSettings(ctx context.Context) (map[string]string, error) {
	return s.settings.GetSettings(ctx)
}

// UpdateSettings validates and stores the given settings. Unknown names and
// values that would make the settings unusable are rejected before anything
// is written.
func (s *Service) UpdateSettings(ctx context.Context, values map[string]string) error {
	current, err := s.settings.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	merged := make(map[string]string, len(current)+len(values))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range values {
		if !KnownSetting(k) {
			return fmt.Errorf("%w: unknown setting %q", ErrInvalidSetting, k)
		}
		merged[k] = v
	}
	if _, err := SettingsFromMap(merged); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSetting, err)
	}

	for k, v := range values {
		if err := s.settings.SetSetting(ctx, k, v); err != nil {
			return fmt.Errorf("save setting %s: %w", k, err)
		}
	}
	return nil
}

// appendHistory adds one entry to a persisted row.
func (s *Service) appendHistory(ctx context.Context, rowID int64, info string, actorID int64) error {
	entry := NewHistoryEntry(info, s.now())
	if err := s.store.AppendHistory(ctx, rowID, entry, actorID); err != nil {
		return fmt.Errorf("append history to row %d: %w", rowID, err)
	}
	return nil
}
