package cache

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/sqlgate/sqlgate/pkg/models"
	"github.com/sqlgate/sqlgate/pkg/schema"
)

// snapshotRecord is the persisted form of one cache entry, one JSON object
// per line.
type snapshotRecord struct {
	Question          string                  `json:"question"`
	SchemaFingerprint string                  `json:"schema_fingerprint"`
	Mode              string                  `json:"mode"`
	SQL               string                  `json:"sql"`
	Kind              models.StatementKind    `json:"kind"`
	SuppressedColumns []string                `json:"suppressed_columns,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	HitCount          int64                   `json:"hit_count"`
}

// Save writes all entries to path as JSON lines. The file is written
// atomically via a temp file rename.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	records := make([]snapshotRecord, 0, len(m.entries))
	for key, entry := range m.entries {
		records = append(records, snapshotRecord{
			Question:          key.Question,
			SchemaFingerprint: string(key.Fingerprint),
			Mode:              key.Mode.String(),
			SQL:               entry.Query.SQL,
			Kind:              entry.Query.Kind,
			SuppressedColumns: entry.Query.SuppressedColumns,
			CreatedAt:         entry.CreatedAt,
			HitCount:          entry.HitCount,
		})
	}
	m.mu.RUnlock()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create cache snapshot directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create cache snapshot: %w", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			f.Close()
			return fmt.Errorf("failed to encode cache record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush cache snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close cache snapshot: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace cache snapshot: %w", err)
	}

	m.logger.Info("cache snapshot saved", zap.String("path", path), zap.Int("entries", len(records)))
	return nil
}

// Load reads a snapshot written by Save and reconstructs the entries.
// Unknown or corrupt records are skipped with a warning rather than
// aborting the load. A missing file is not an error; the cache starts cold.
func (m *Manager) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open cache snapshot: %w", err)
	}
	defer f.Close()

	loaded, skipped := 0, 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec snapshotRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			m.logger.Warn("skipping corrupt cache record",
				zap.Int("line", lineNo), zap.Error(err))
			skipped++
			continue
		}
		if rec.Question == "" || rec.SchemaFingerprint == "" || rec.SQL == "" {
			m.logger.Warn("skipping incomplete cache record", zap.Int("line", lineNo))
			skipped++
			continue
		}

		mode := models.ModeOpen
		switch rec.Mode {
		case models.ModeConfidential.String():
			mode = models.ModeConfidential
		case models.ModeOpen.String():
		default:
			m.logger.Warn("skipping cache record with unknown mode",
				zap.Int("line", lineNo), zap.String("mode", rec.Mode))
			skipped++
			continue
		}

		key := Key{
			Question:    rec.Question,
			Fingerprint: schema.Fingerprint(rec.SchemaFingerprint),
			Mode:        mode,
		}
		m.mu.Lock()
		m.entries[key] = &Entry{
			Query: models.RewrittenQuery{
				SQL:               rec.SQL,
				Kind:              rec.Kind,
				SuppressedColumns: rec.SuppressedColumns,
			},
			CreatedAt: rec.CreatedAt,
			HitCount:  rec.HitCount,
		}
		m.mu.Unlock()
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read cache snapshot: %w", err)
	}

	m.logger.Info("cache snapshot loaded",
		zap.String("path", path), zap.Int("loaded", loaded), zap.Int("skipped", skipped))
	return nil
}
