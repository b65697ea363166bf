package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sqlgate/sqlgate/pkg/apperrors"
	"github.com/sqlgate/sqlgate/pkg/models"
	"github.com/sqlgate/sqlgate/pkg/services"
)

type mockQueryService struct {
	AskFunc        func(ctx context.Context, question string, mode models.ConfidentialMode, clientIP string) (*services.QueryResponse, error)
	HistoryFunc    func(ctx context.Context, filters models.HistoryFilters) ([]*models.HistoryRecord, int, error)
	SchemaFunc     func(ctx context.Context) (*models.SchemaDescription, error)
	ClearCacheFunc func(clientIP string) int
}

func (m *mockQueryService) Ask(ctx context.Context, question string, mode models.ConfidentialMode, clientIP string) (*services.QueryResponse, error) {
	return m.AskFunc(ctx, question, mode, clientIP)
}

func (m *mockQueryService) History(ctx context.Context, filters models.HistoryFilters) ([]*models.HistoryRecord, int, error) {
	return m.HistoryFunc(ctx, filters)
}

func (m *mockQueryService) Schema(ctx context.Context) (*models.SchemaDescription, error) {
	return m.SchemaFunc(ctx)
}

func (m *mockQueryService) ClearCache(clientIP string) int {
	return m.ClearCacheFunc(clientIP)
}

func newTestMux(t *testing.T, svc services.QueryService) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	NewQueryHandler(svc, zaptest.NewLogger(t)).RegisterRoutes(mux)
	return mux
}

func TestAsk_Success(t *testing.T) {
	var gotMode models.ConfidentialMode
	svc := &mockQueryService{
		AskFunc: func(ctx context.Context, question string, mode models.ConfidentialMode, clientIP string) (*services.QueryResponse, error) {
			gotMode = mode
			return &services.QueryResponse{
				Question: question,
				SQL:      "SELECT name FROM customers",
				Mode:     mode,
				Cached:   true,
			}, nil
		},
	}

	mux := newTestMux(t, svc)
	req := httptest.NewRequest(http.MethodPost, "/api/query",
		strings.NewReader(`{"question":"list customers","confidential_mode":true}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ModeConfidential, gotMode)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			SQL    string `json:"sql"`
			Mode   string `json:"mode"`
			Cached bool   `json:"cached"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "SELECT name FROM customers", resp.Data.SQL)
	assert.Equal(t, "confidential", resp.Data.Mode)
	assert.True(t, resp.Data.Cached)
}

func TestAsk_MissingQuestion(t *testing.T) {
	mux := newTestMux(t, &mockQueryService{})

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsk_InvalidJSON(t *testing.T) {
	mux := newTestMux(t, &mockQueryService{})

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsk_RejectionCarriesReasonCode(t *testing.T) {
	svc := &mockQueryService{
		AskFunc: func(ctx context.Context, question string, mode models.ConfidentialMode, clientIP string) (*services.QueryResponse, error) {
			return nil, fmt.Errorf("%w: forbidden keyword \"drop\"", apperrors.ErrForbiddenConstruct)
		},
	}

	mux := newTestMux(t, svc)
	req := httptest.NewRequest(http.MethodPost, "/api/query",
		strings.NewReader(`{"question":"drop the customers table"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, string(models.ReasonForbiddenConstruct), resp.Error)
}

func TestAsk_GenerationFailure(t *testing.T) {
	svc := &mockQueryService{
		AskFunc: func(ctx context.Context, question string, mode models.ConfidentialMode, clientIP string) (*services.QueryResponse, error) {
			return nil, fmt.Errorf("%w: model unavailable", apperrors.ErrGenerationFailure)
		},
	}

	mux := newTestMux(t, svc)
	req := httptest.NewRequest(http.MethodPost, "/api/query",
		strings.NewReader(`{"question":"list customers"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHistory_ParsesFilters(t *testing.T) {
	var gotFilters models.HistoryFilters
	svc := &mockQueryService{
		HistoryFunc: func(ctx context.Context, filters models.HistoryFilters) ([]*models.HistoryRecord, int, error) {
			gotFilters = filters
			return []*models.HistoryRecord{
				{Question: "list customers", SQL: "SELECT name FROM customers", Accepted: true},
			}, 1, nil
		},
	}

	mux := newTestMux(t, svc)
	req := httptest.NewRequest(http.MethodGet,
		"/api/history?accepted=true&limit=5&since=2026-08-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gotFilters.AcceptedOnly)
	assert.Equal(t, 5, gotFilters.Limit)
	require.NotNil(t, gotFilters.Since)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Items []map[string]any `json:"items"`
			Total int              `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, "open", resp.Data.Items[0]["mode"])
}

func TestHistory_InvalidLimit(t *testing.T) {
	mux := newTestMux(t, &mockQueryService{})

	req := httptest.NewRequest(http.MethodGet, "/api/history?limit=many", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchema_Success(t *testing.T) {
	svc := &mockQueryService{
		SchemaFunc: func(ctx context.Context) (*models.SchemaDescription, error) {
			return &models.SchemaDescription{
				Tables: []models.SchemaTable{
					{Name: "customers", Columns: []models.SchemaColumn{{Name: "id", DataType: "integer"}}},
				},
			}, nil
		},
	}

	mux := newTestMux(t, svc)
	req := httptest.NewRequest(http.MethodGet, "/api/schema", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"customers"`)
}

func TestClearCache_ReportsDroppedEntries(t *testing.T) {
	svc := &mockQueryService{
		ClearCacheFunc: func(clientIP string) int { return 3 },
	}

	mux := newTestMux(t, svc)
	req := httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool           `json:"success"`
		Data    map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.Data["entries_dropped"])
}
