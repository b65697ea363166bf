package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sqlgate/sqlgate/pkg/apperrors"
	"github.com/sqlgate/sqlgate/pkg/models"
	"github.com/sqlgate/sqlgate/pkg/services"
)

// QueryHandler handles the question answering and pipeline management routes.
type QueryHandler struct {
	queryService services.QueryService
	logger       *zap.Logger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(queryService services.QueryService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		queryService: queryService,
		logger:       logger,
	}
}

// RegisterRoutes registers the query handler's routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.Ask)
	mux.HandleFunc("GET /api/history", h.History)
	mux.HandleFunc("GET /api/schema", h.Schema)
	mux.HandleFunc("POST /api/cache/clear", h.ClearCache)
}

type askRequest struct {
	Question         string `json:"question"`
	ConfidentialMode bool   `json:"confidential_mode"`
}

// Ask handles POST /api/query
func (h *QueryHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Request body must be JSON"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Question == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_question", "question is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	mode := models.ModeOpen
	if req.ConfidentialMode {
		mode = models.ModeConfidential
	}

	resp, err := h.queryService.Ask(r.Context(), req.Question, mode, r.RemoteAddr)
	if err != nil {
		h.writeAskError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: resp}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeAskError maps pipeline errors to HTTP statuses. Validation rejections
// carry their stable reason code so clients can react without parsing text.
func (h *QueryHandler) writeAskError(w http.ResponseWriter, err error) {
	if reason, ok := services.RejectionReasonFromError(err); ok {
		if werr := WriteJSON(w, http.StatusUnprocessableEntity, ApiResponse{
			Success: false,
			Error:   string(reason),
			Message: err.Error(),
		}); werr != nil {
			h.logger.Error("Failed to write rejection response", zap.Error(werr))
		}
		return
	}

	if errors.Is(err, apperrors.ErrGenerationFailure) {
		if werr := ErrorResponse(w, http.StatusBadGateway, "generation_failed", err.Error()); werr != nil {
			h.logger.Error("Failed to write error response", zap.Error(werr))
		}
		return
	}

	h.logger.Error("Query failed", zap.Error(err))
	if werr := ErrorResponse(w, http.StatusInternalServerError, "query_failed", err.Error()); werr != nil {
		h.logger.Error("Failed to write error response", zap.Error(werr))
	}
}

// History handles GET /api/history
func (h *QueryHandler) History(w http.ResponseWriter, r *http.Request) {
	filters := models.HistoryFilters{
		AcceptedOnly: r.URL.Query().Get("accepted") == "true",
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			if werr := ErrorResponse(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer"); werr != nil {
				h.logger.Error("Failed to write error response", zap.Error(werr))
			}
			return
		}
		filters.Limit = limit
	}

	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			if werr := ErrorResponse(w, http.StatusBadRequest, "invalid_since", "since must be RFC3339"); werr != nil {
				h.logger.Error("Failed to write error response", zap.Error(werr))
			}
			return
		}
		filters.Since = &since
	}

	records, total, err := h.queryService.History(r.Context(), filters)
	if err != nil {
		h.logger.Error("Failed to list history", zap.Error(err))
		if werr := ErrorResponse(w, http.StatusInternalServerError, "history_failed", err.Error()); werr != nil {
			h.logger.Error("Failed to write error response", zap.Error(werr))
		}
		return
	}

	if records == nil {
		records = make([]*models.HistoryRecord, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: PaginatedResponse{
			Items: records,
			Total: total,
			Limit: filters.Limit,
		},
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Schema handles GET /api/schema
func (h *QueryHandler) Schema(w http.ResponseWriter, r *http.Request) {
	desc, err := h.queryService.Schema(r.Context())
	if err != nil {
		h.logger.Error("Failed to describe schema", zap.Error(err))
		if werr := ErrorResponse(w, http.StatusInternalServerError, "schema_failed", err.Error()); werr != nil {
			h.logger.Error("Failed to write error response", zap.Error(werr))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: desc}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ClearCache handles POST /api/cache/clear
func (h *QueryHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	dropped := h.queryService.ClearCache(r.RemoteAddr)

	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    map[string]int{"entries_dropped": dropped},
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
