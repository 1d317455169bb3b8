package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested item is not found.
var ErrNotFound = errors.New("not found")

// PolicyRepository defines operations for group policy persistence.
type PolicyRepository interface {
	// FindOrDefault returns the stored policy, creating the default one on
	// first sight of the group. It never returns ErrNotFound.
	FindOrDefault(ctx context.Context, chatID int64, title string) (*GroupPolicy, error)
	Get(ctx context.Context, chatID int64) (*GroupPolicy, error)
	Save(ctx context.Context, p *GroupPolicy) error
	List(ctx context.Context) ([]GroupPolicy, error)
	ListIDs(ctx context.Context) ([]int64, error)
}

// MemberRepository defines operations for member state persistence.
type MemberRepository interface {
	// FindOrDefault returns the stored member or a zero-valued one. It does
	// not insert.
	FindOrDefault(ctx context.Context, chatID, userID int64) (*MemberState, error)
	Upsert(ctx context.Context, chatID, userID int64, patch MemberPatch) (*MemberState, error)
	IncrementWarnings(ctx context.Context, chatID, userID int64) (int, error)
	FindByUsername(ctx context.Context, chatID int64, username string) (*MemberState, error)
	ListPendingExpired(ctx context.Context, before time.Time) ([]MemberState, error)
	CountDeletedLikely(ctx context.Context, chatID int64) (int, error)
	Count(ctx context.Context, chatIDs []int64) (int, error)
}

// RelayMappingRepository is the relay correlation store.
type RelayMappingRepository interface {
	// Save records a mapping. Saving an existing key is a no-op.
	Save(ctx context.Context, m *RelayMapping) error
	Find(ctx context.Context, relayChatID int64, relayMessageID int) (*RelayMapping, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// RelaySettingsRepository defines operations for the relay settings singleton.
type RelaySettingsRepository interface {
	// Get returns the settings, creating the defaults on first access.
	Get(ctx context.Context) (*RelaySettings, error)
	Save(ctx context.Context, s *RelaySettings) error
}

// FilterRepository defines operations for filter persistence.
type FilterRepository interface {
	Upsert(ctx context.Context, f *Filter) error
	Find(ctx context.Context, chatID int64, trigger string) (*Filter, error)
	List(ctx context.Context, chatID int64) ([]Filter, error)
	Delete(ctx context.Context, chatID int64, trigger string) error
	Count(ctx context.Context, chatIDs []int64) (int, error)
}

// LogRepository defines operations for the append-only moderation log.
type LogRepository interface {
	Append(ctx context.Context, e *LogEntry) error
	List(ctx context.Context, chatID int64, limit int) ([]LogEntry, error)
}

// Store groups the repositories of one backend.
type Store struct {
	Policies      PolicyRepository
	Members       MemberRepository
	RelayMappings RelayMappingRepository
	RelaySettings RelaySettingsRepository
	Filters       FilterRepository
	Logs          LogRepository

	close func() error
}

// Close releases the backend connection.
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
