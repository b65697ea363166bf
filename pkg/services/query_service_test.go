package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/sqlgate/sqlgate/pkg/apperrors"
	"github.com/sqlgate/sqlgate/pkg/audit"
	"github.com/sqlgate/sqlgate/pkg/cache"
	"github.com/sqlgate/sqlgate/pkg/executor"
	"github.com/sqlgate/sqlgate/pkg/llm"
	"github.com/sqlgate/sqlgate/pkg/models"
	"github.com/sqlgate/sqlgate/pkg/policy"
)

type mockIntrospector struct {
	desc *models.SchemaDescription
	err  error
}

func (m *mockIntrospector) Describe(ctx context.Context) (*models.SchemaDescription, error) {
	return m.desc, m.err
}

type mockRecorder struct {
	mu      sync.Mutex
	records []*models.HistoryRecord
}

func (m *mockRecorder) Record(ctx context.Context, rec *models.HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *mockRecorder) List(ctx context.Context, filters models.HistoryFilters) ([]*models.HistoryRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records, len(m.records), nil
}

func (m *mockRecorder) all() []*models.HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.HistoryRecord(nil), m.records...)
}

type mockExecutor struct {
	mu      sync.Mutex
	calls   int
	queries []models.RewrittenQuery
}

func (m *mockExecutor) Execute(ctx context.Context, query models.RewrittenQuery, limit int) (*executor.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.queries = append(m.queries, query)
	return &executor.Result{
		Columns:           []string{"name"},
		Rows:              []map[string]any{{"name": "Atelier"}},
		RowCount:          1,
		SuppressedColumns: query.SuppressedColumns,
	}, nil
}

func customersSchema() *models.SchemaDescription {
	return &models.SchemaDescription{
		Tables: []models.SchemaTable{
			{
				Name: "customers",
				Columns: []models.SchemaColumn{
					{Name: "id", DataType: "integer", IsPrimaryKey: true},
					{Name: "name", DataType: "text"},
					{Name: "email", DataType: "text"},
					{Name: "ssn", DataType: "text"},
					{Name: "country", DataType: "text"},
				},
			},
		},
	}
}

type serviceHarness struct {
	service  QueryService
	client   *llm.MockClient
	recorder *mockRecorder
	executor *mockExecutor
	cache    *cache.Manager
}

func newServiceHarness(t *testing.T, desc *models.SchemaDescription) *serviceHarness {
	t.Helper()

	client := llm.NewMockClient()
	recorder := &mockRecorder{}
	exec := &mockExecutor{}
	mgr := cache.NewManager(zaptest.NewLogger(t))

	service := NewQueryService(Deps{
		Introspector: &mockIntrospector{desc: desc},
		Patterns:     policy.DefaultPatternTable(),
		Generator:    client,
		Temperature:  0.1,
		Cache:        mgr,
		Executor:     exec,
		Recorder:     recorder,
		Auditor:      audit.NewSecurityAuditor(zap.NewNop()),
		Logger:       zaptest.NewLogger(t),
	})

	return &serviceHarness{
		service:  service,
		client:   client,
		recorder: recorder,
		executor: exec,
		cache:    mgr,
	}
}

func TestAsk_GeneratesValidatesAndExecutes(t *testing.T) {
	h := newServiceHarness(t, customersSchema())
	h.client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		return "```sql\nSELECT name FROM customers\n```", nil
	}

	resp, err := h.service.Ask(context.Background(), "list customer names", models.ModeOpen, "127.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, "SELECT name FROM customers", resp.SQL)
	assert.False(t, resp.Cached)
	assert.Equal(t, 1, resp.Result.RowCount)
	assert.Equal(t, 1, h.client.GenerateResponseCalls)
	assert.Equal(t, 1, h.executor.calls)

	records := h.recorder.all()
	require.Len(t, records, 1)
	assert.True(t, records[0].Accepted)
	assert.Equal(t, "SELECT name FROM customers", records[0].SQL)
	assert.Nil(t, records[0].Reason)
}

func TestAsk_SecondAskServedFromCache(t *testing.T) {
	h := newServiceHarness(t, customersSchema())
	h.client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		return "SELECT name FROM customers", nil
	}

	first, err := h.service.Ask(context.Background(), "list customer names", models.ModeOpen, "127.0.0.1")
	require.NoError(t, err)
	require.False(t, first.Cached)

	// Same question with different whitespace and case shares the entry.
	second, err := h.service.Ask(context.Background(), "  List   CUSTOMER names ", models.ModeOpen, "127.0.0.1")
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, 1, h.client.GenerateResponseCalls)
	assert.Equal(t, 2, h.executor.calls)
}

func TestAsk_RejectionIsNotCached(t *testing.T) {
	h := newServiceHarness(t, customersSchema())
	h.client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		return "SELECT name FROM customers FOR UPDATE", nil
	}

	_, err := h.service.Ask(context.Background(), "lock the customers", models.ModeOpen, "127.0.0.1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrForbiddenConstruct))

	reason, ok := RejectionReasonFromError(err)
	require.True(t, ok)
	assert.Equal(t, models.ReasonForbiddenConstruct, reason)

	assert.Equal(t, 0, h.cache.Len())
	assert.Equal(t, 0, h.executor.calls)

	records := h.recorder.all()
	require.Len(t, records, 1)
	assert.False(t, records[0].Accepted)
	require.NotNil(t, records[0].Reason)
	assert.Equal(t, models.ReasonForbiddenConstruct, *records[0].Reason)

	// The model fixes itself on retry; the pipeline runs again.
	h.client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		return "SELECT name FROM customers", nil
	}

	resp, err := h.service.Ask(context.Background(), "lock the customers", models.ModeOpen, "127.0.0.1")
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, 2, h.client.GenerateResponseCalls)
	assert.Equal(t, 1, h.cache.Len())
}

func TestAsk_NoSQLInResponseIsUnparseable(t *testing.T) {
	h := newServiceHarness(t, customersSchema())
	h.client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		return "I cannot answer that question.", nil
	}

	_, err := h.service.Ask(context.Background(), "what is the meaning of life", models.ModeOpen, "127.0.0.1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnparseableInput))
	assert.Equal(t, 0, h.cache.Len())
}

func TestAsk_GenerationFailureIsNotCached(t *testing.T) {
	h := newServiceHarness(t, customersSchema())
	h.client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		return "", errors.New("model unavailable")
	}

	_, err := h.service.Ask(context.Background(), "list customer names", models.ModeOpen, "127.0.0.1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrGenerationFailure))
	assert.Equal(t, 0, h.cache.Len())
	assert.Empty(t, h.recorder.all())

	h.client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		return "SELECT name FROM customers", nil
	}

	resp, err := h.service.Ask(context.Background(), "list customer names", models.ModeOpen, "127.0.0.1")
	require.NoError(t, err)
	assert.False(t, resp.Cached)
}

func TestAsk_ConfidentialModeRewritesProjection(t *testing.T) {
	h := newServiceHarness(t, customersSchema())

	var capturedPrompt string
	h.client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		capturedPrompt = prompt
		return "SELECT * FROM customers", nil
	}

	resp, err := h.service.Ask(context.Background(), "show all customers", models.ModeConfidential, "127.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, "SELECT id, name, country FROM (SELECT * FROM customers) AS redacted", resp.SQL)
	assert.Equal(t, []string{"email", "ssn"}, resp.SuppressedColumns)

	// Confidential columns never reach the model.
	assert.NotContains(t, capturedPrompt, "email")
	assert.NotContains(t, capturedPrompt, "ssn")
}

func TestAsk_ModeChangesAreCachedSeparately(t *testing.T) {
	h := newServiceHarness(t, customersSchema())
	h.client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		return "SELECT name FROM customers", nil
	}

	_, err := h.service.Ask(context.Background(), "list customer names", models.ModeOpen, "127.0.0.1")
	require.NoError(t, err)

	resp, err := h.service.Ask(context.Background(), "list customer names", models.ModeConfidential, "127.0.0.1")
	require.NoError(t, err)

	assert.False(t, resp.Cached)
	assert.Equal(t, 2, h.client.GenerateResponseCalls)
	assert.Equal(t, 2, h.cache.Len())
}

func TestClearCache(t *testing.T) {
	h := newServiceHarness(t, customersSchema())
	h.client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		return "SELECT name FROM customers", nil
	}

	_, err := h.service.Ask(context.Background(), "list customer names", models.ModeOpen, "127.0.0.1")
	require.NoError(t, err)
	require.Equal(t, 1, h.cache.Len())

	dropped := h.service.ClearCache("127.0.0.1")
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 0, h.cache.Len())

	// Next ask regenerates.
	resp, err := h.service.Ask(context.Background(), "list customer names", models.ModeOpen, "127.0.0.1")
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, 2, h.client.GenerateResponseCalls)
}

func TestAsk_EmptyQuestion(t *testing.T) {
	h := newServiceHarness(t, customersSchema())

	_, err := h.service.Ask(context.Background(), "", models.ModeOpen, "127.0.0.1")
	require.Error(t, err)
	assert.Equal(t, 0, h.client.GenerateResponseCalls)
}
