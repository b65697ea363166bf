package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sqlgate/sqlgate/pkg/models"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")

	m := NewManager(zaptest.NewLogger(t))
	openKey := NewKey("How many customers?", testFingerprint, models.ModeOpen)
	confKey := NewKey("List employees", testFingerprint, models.ModeConfidential)

	_, _, err := m.GetOrGenerate(context.Background(), openKey, func(ctx context.Context) (models.RewrittenQuery, error) {
		return models.RewrittenQuery{SQL: "SELECT COUNT(*) FROM customers", Kind: models.StatementSelect}, nil
	})
	require.NoError(t, err)
	_, _, err = m.GetOrGenerate(context.Background(), confKey, func(ctx context.Context) (models.RewrittenQuery, error) {
		return models.RewrittenQuery{
			SQL:               "SELECT name FROM (SELECT name, salary FROM employees) AS redacted",
			Kind:              models.StatementSelect,
			SuppressedColumns: []string{"salary"},
		}, nil
	})
	require.NoError(t, err)

	// Register a hit so the counter round-trips too.
	_, ok := m.Get(openKey)
	require.True(t, ok)

	require.NoError(t, m.Save(path))

	restored := NewManager(zaptest.NewLogger(t))
	require.NoError(t, restored.Load(path))
	require.Equal(t, 2, restored.Len())

	query, ok := restored.Get(openKey)
	require.True(t, ok)
	assert.Equal(t, "SELECT COUNT(*) FROM customers", query.SQL)
	assert.Equal(t, models.StatementSelect, query.Kind)

	query, ok = restored.Get(confKey)
	require.True(t, ok)
	assert.Equal(t, []string{"salary"}, query.SuppressedColumns)

	// Hit counters: 1 persisted + 1 from the Get above.
	assert.Equal(t, int64(2), restored.HitCount(openKey))
}

func TestLoad_SkipsCorruptRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")
	content := `{"question":"q one","schema_fingerprint":"f1","mode":"open","sql":"SELECT 1","kind":"SELECT","created_at":"2026-08-01T00:00:00Z","hit_count":0}
this is not json
{"question":"","schema_fingerprint":"f1","mode":"open","sql":"SELECT 2","kind":"SELECT"}
{"question":"q two","schema_fingerprint":"f1","mode":"sideways","sql":"SELECT 3","kind":"SELECT"}
{"question":"q three","schema_fingerprint":"f1","mode":"confidential","sql":"SELECT 4","kind":"SELECT","created_at":"2026-08-01T00:00:00Z","hit_count":3}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.Load(path))

	assert.Equal(t, 2, m.Len())

	_, ok := m.Get(Key{Question: "q one", Fingerprint: testFingerprint, Mode: models.ModeOpen})
	assert.True(t, ok)
	_, ok = m.Get(Key{Question: "q three", Fingerprint: testFingerprint, Mode: models.ModeConfidential})
	assert.True(t, ok)
}

// The shipped config points at data/query_cache.jsonl; Save must create the
// directory rather than fail on a fresh deployment.
func TestSave_CreatesSnapshotDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested", "cache.jsonl")

	m := NewManager(zaptest.NewLogger(t))
	_, _, err := m.GetOrGenerate(context.Background(),
		NewKey("question", testFingerprint, models.ModeOpen),
		func(ctx context.Context) (models.RewrittenQuery, error) {
			return models.RewrittenQuery{SQL: "SELECT 1", Kind: models.StatementSelect}, nil
		})
	require.NoError(t, err)

	require.NoError(t, m.Save(path))

	restored := NewManager(zaptest.NewLogger(t))
	require.NoError(t, restored.Load(path))
	assert.Equal(t, 1, restored.Len())
}

func TestLoad_MissingFileStartsCold(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.Load(filepath.Join(t.TempDir(), "absent.jsonl")))
	assert.Equal(t, 0, m.Len())
}
