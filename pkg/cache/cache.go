// Package cache maps normalized questions to validated, rewritten SQL.
//
// The manager is the only component in the pipeline with shared mutable
// state: it is constructed once per process, owns every CacheEntry, and
// serializes generation per key while leaving unrelated keys fully
// concurrent.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sqlgate/sqlgate/pkg/models"
	"github.com/sqlgate/sqlgate/pkg/schema"
)

// Key identifies a cache entry. Two questions that normalize identically
// under the same schema fingerprint and mode share an entry.
type Key struct {
	Question    string
	Fingerprint schema.Fingerprint
	Mode        models.ConfidentialMode
}

// NormalizeQuestion trims, lowercases, and collapses internal whitespace.
func NormalizeQuestion(question string) string {
	return strings.Join(strings.Fields(strings.ToLower(question)), " ")
}

// NewKey builds a Key from a raw question.
func NewKey(question string, fp schema.Fingerprint, mode models.ConfidentialMode) Key {
	return Key{Question: NormalizeQuestion(question), Fingerprint: fp, Mode: mode}
}

func (k Key) flightID() string {
	return k.Question + "\x1f" + string(k.Fingerprint) + "\x1f" + k.Mode.String()
}

// Entry is a cached rewritten query with generation metadata.
type Entry struct {
	Query     models.RewrittenQuery `json:"query"`
	CreatedAt time.Time             `json:"created_at"`
	HitCount  int64                 `json:"hit_count"`
}

// PipelineFunc produces a validated, rewritten query for a cache miss.
// It is expected to call the external generator and pipe the candidate
// through validation and rewriting; an error means nothing is cached.
type PipelineFunc func(ctx context.Context) (models.RewrittenQuery, error)

// Manager is the process-wide query cache.
type Manager struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
	group   singleflight.Group
	logger  *zap.Logger
}

// NewManager creates an empty cache manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		entries: make(map[Key]*Entry),
		logger:  logger.Named("cache"),
	}
}

// Get returns the cached query for a key, incrementing its hit counter.
func (m *Manager) Get(key Key) (models.RewrittenQuery, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return models.RewrittenQuery{}, false
	}
	entry.HitCount++
	return entry.Query, true
}

// GetOrGenerate returns the cached query for a key, or runs the pipeline to
// produce one. At most one pipeline invocation is in flight per key:
// concurrent misses on the same key share the first invocation's result (or
// its failure). A caller whose context is cancelled while waiting stops
// waiting, but the shared generation keeps running so other waiters still
// get its result. Pipeline failures are returned without being cached.
//
// The second return value reports whether the result came from the cache.
func (m *Manager) GetOrGenerate(ctx context.Context, key Key, pipeline PipelineFunc) (models.RewrittenQuery, bool, error) {
	if query, ok := m.Get(key); ok {
		m.logger.Debug("cache hit", zap.String("question", key.Question), zap.String("mode", key.Mode.String()))
		return query, true, nil
	}

	ch := m.group.DoChan(key.flightID(), func() (any, error) {
		// Re-check under the flight: a previous flight may have stored the
		// entry between our miss and this call.
		if query, ok := m.Get(key); ok {
			return query, nil
		}

		// Detach from the first caller's cancellation; other waiters may
		// still want this result.
		query, err := pipeline(context.WithoutCancel(ctx))
		if err != nil {
			return models.RewrittenQuery{}, err
		}

		m.mu.Lock()
		m.entries[key] = &Entry{Query: query, CreatedAt: time.Now().UTC()}
		m.mu.Unlock()

		return query, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.RewrittenQuery{}, false, res.Err
		}
		return res.Val.(models.RewrittenQuery), false, nil
	case <-ctx.Done():
		return models.RewrittenQuery{}, false, ctx.Err()
	}
}

// Clear removes all entries.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[Key]*Entry)
	m.logger.Info("cache cleared")
}

// Len returns the number of cached entries.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// HitCount returns the hit counter for a key, or 0 if absent.
func (m *Manager) HitCount(key Key) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if entry, ok := m.entries[key]; ok {
		return entry.HitCount
	}
	return 0
}
