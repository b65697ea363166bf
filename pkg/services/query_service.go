package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sqlgate/sqlgate/pkg/apperrors"
	"github.com/sqlgate/sqlgate/pkg/audit"
	"github.com/sqlgate/sqlgate/pkg/cache"
	"github.com/sqlgate/sqlgate/pkg/executor"
	"github.com/sqlgate/sqlgate/pkg/history"
	"github.com/sqlgate/sqlgate/pkg/introspect"
	"github.com/sqlgate/sqlgate/pkg/llm"
	"github.com/sqlgate/sqlgate/pkg/logging"
	"github.com/sqlgate/sqlgate/pkg/models"
	"github.com/sqlgate/sqlgate/pkg/policy"
	"github.com/sqlgate/sqlgate/pkg/prompts"
	"github.com/sqlgate/sqlgate/pkg/retry"
	"github.com/sqlgate/sqlgate/pkg/schema"
	sqlval "github.com/sqlgate/sqlgate/pkg/sql"
)

// defaultRowLimit caps result sets returned to callers.
const defaultRowLimit = 500

// QueryResponse is the outcome of answering one question.
type QueryResponse struct {
	Question          string                  `json:"question"`
	SQL               string                  `json:"sql"`
	Mode              models.ConfidentialMode `json:"mode"`
	Cached            bool                    `json:"cached"`
	Result            *executor.Result        `json:"result,omitempty"`
	SuppressedColumns []string                `json:"suppressed_columns,omitempty"`
}

// QueryService answers natural language questions through the generation,
// validation, redaction, and caching pipeline.
type QueryService interface {
	Ask(ctx context.Context, question string, mode models.ConfidentialMode, clientIP string) (*QueryResponse, error)
	History(ctx context.Context, filters models.HistoryFilters) ([]*models.HistoryRecord, int, error)
	Schema(ctx context.Context) (*models.SchemaDescription, error)
	ClearCache(clientIP string) int
}

type queryService struct {
	introspector introspect.Introspector
	patterns     policy.PatternTable
	generator    llm.Client
	temperature  float64
	cache        *cache.Manager
	exec         executor.Executor
	recorder     history.Recorder
	auditor      *audit.SecurityAuditor
	logger       *zap.Logger
}

// Deps bundles the pipeline collaborators.
type Deps struct {
	Introspector introspect.Introspector
	Patterns     policy.PatternTable
	Generator    llm.Client
	Temperature  float64
	Cache        *cache.Manager
	Executor     executor.Executor
	Recorder     history.Recorder
	Auditor      *audit.SecurityAuditor
	Logger       *zap.Logger
}

// NewQueryService wires the pipeline together.
func NewQueryService(deps Deps) QueryService {
	return &queryService{
		introspector: deps.Introspector,
		patterns:     deps.Patterns,
		generator:    deps.Generator,
		temperature:  deps.Temperature,
		cache:        deps.Cache,
		exec:         deps.Executor,
		recorder:     deps.Recorder,
		auditor:      deps.Auditor,
		logger:       deps.Logger.Named("query-service"),
	}
}

var _ QueryService = (*queryService)(nil)

// Ask resolves a question to safe SQL and executes it.
//
// The cache is consulted first; on a miss the generation pipeline runs under
// single-flight so concurrent identical questions share one model call.
// Rejections are never cached: the next ask for the same question generates
// fresh. Every pipeline decision, accepted or rejected, lands in history.
func (s *queryService) Ask(ctx context.Context, question string, mode models.ConfidentialMode, clientIP string) (*QueryResponse, error) {
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}

	desc, err := s.introspector.Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to describe schema: %w", err)
	}

	set := policy.Classify(desc, s.patterns)
	fp := schema.Compute(desc, mode)
	key := cache.NewKey(question, fp, mode)

	query, cached, err := s.cache.GetOrGenerate(ctx, key, func(flightCtx context.Context) (models.RewrittenQuery, error) {
		return s.generate(flightCtx, question, desc, set, mode, clientIP)
	})
	if err != nil {
		return nil, err
	}

	if cached {
		s.logger.Debug("Cache hit",
			zap.String("question", key.Question),
			zap.String("mode", mode.String()))
	}

	result, err := s.exec.Execute(ctx, query, defaultRowLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	return &QueryResponse{
		Question:          question,
		SQL:               query.SQL,
		Mode:              mode,
		Cached:            cached,
		Result:            result,
		SuppressedColumns: query.SuppressedColumns,
	}, nil
}

// generate runs the uncached pipeline: prompt, model call, extraction,
// validation, rewrite. It records the decision in history before returning.
func (s *queryService) generate(
	ctx context.Context,
	question string,
	desc *models.SchemaDescription,
	set *policy.ConfidentialColumnSet,
	mode models.ConfidentialMode,
	clientIP string,
) (models.RewrittenQuery, error) {
	prompt := prompts.BuildSQLGenerationPrompt(question, desc, set, mode)
	system := prompts.BuildSQLGenerationSystemMessage()

	raw, err := retry.DoWithResult(ctx, nil, func() (string, error) {
		return s.generator.GenerateResponse(ctx, prompt, system, s.temperature)
	})
	if err != nil {
		return models.RewrittenQuery{}, fmt.Errorf("%w: %v", apperrors.ErrGenerationFailure, err)
	}

	candidate := llm.ExtractSQL(raw)
	if candidate == "" {
		s.recordDecision(ctx, question, raw, mode, sqlval.Verdict{
			Reason: models.ReasonUnparseableInput,
			Err:    apperrors.ErrUnparseableInput,
		}, clientIP)
		return models.RewrittenQuery{}, fmt.Errorf("%w: no SELECT statement in model response", apperrors.ErrUnparseableInput)
	}

	verdict := sqlval.Validate(candidate)
	if !verdict.Accepted() {
		s.recordDecision(ctx, question, candidate, mode, verdict, clientIP)
		return models.RewrittenQuery{}, verdict.Err
	}

	rewritten, err := sqlval.Rewrite(verdict, set, desc, mode)
	if err != nil {
		return models.RewrittenQuery{}, fmt.Errorf("failed to rewrite statement: %w", err)
	}

	s.recordDecision(ctx, question, rewritten.SQL, mode, verdict, clientIP)

	s.logger.Info("Query generated",
		zap.String("sql", logging.SanitizeQuery(rewritten.SQL)),
		zap.String("kind", string(rewritten.Kind)),
		zap.String("mode", mode.String()),
		zap.Strings("suppressed_columns", rewritten.SuppressedColumns))

	return rewritten, nil
}

// recordDecision appends the outcome to history and raises audit events for
// rejections. History failures are logged, not propagated: losing a trail
// entry must not turn an answered question into an error.
func (s *queryService) recordDecision(ctx context.Context, question, sql string, mode models.ConfidentialMode, verdict sqlval.Verdict, clientIP string) {
	rec := &models.HistoryRecord{
		ID:       uuid.New(),
		Question: question,
		SQL:      sql,
		Mode:     mode,
		Accepted: verdict.Accepted(),
	}
	if !verdict.Accepted() {
		reason := verdict.Reason
		rec.Reason = &reason

		if verdict.Injection != nil {
			s.auditor.LogInjectionAttempt(rec.ID, audit.InjectionDetails{
				Question:    question,
				Literal:     verdict.Injection.Literal,
				Fingerprint: verdict.Injection.Fingerprint,
			}, clientIP)
		} else {
			s.auditor.LogQueryRejected(rec.ID, audit.RejectionDetails{
				Question: question,
				Reason:   verdict.Reason,
				Message:  verdict.Err.Error(),
			}, clientIP)
		}
	}

	if err := s.recorder.Record(ctx, rec); err != nil {
		s.logger.Error("Failed to record history entry",
			zap.String("record_id", rec.ID.String()),
			zap.Error(err))
	}
}

func (s *queryService) History(ctx context.Context, filters models.HistoryFilters) ([]*models.HistoryRecord, int, error) {
	records, total, err := s.recorder.List(ctx, filters)
	if err != nil {
		s.logger.Error("Failed to list history", zap.Error(err))
		return nil, 0, err
	}
	return records, total, nil
}

func (s *queryService) Schema(ctx context.Context) (*models.SchemaDescription, error) {
	return s.introspector.Describe(ctx)
}

// ClearCache drops all cached queries, typically after a policy update.
func (s *queryService) ClearCache(clientIP string) int {
	dropped := s.cache.Len()
	s.cache.Clear()
	s.auditor.LogCacheCleared(dropped, clientIP)
	return dropped
}

// RejectionReasonFromError maps a pipeline error to its stable reason code.
// Returns false when the error is not a validation rejection.
func RejectionReasonFromError(err error) (models.RejectionReason, bool) {
	switch {
	case errors.Is(err, apperrors.ErrForbiddenStatement):
		return models.ReasonForbiddenStatement, true
	case errors.Is(err, apperrors.ErrForbiddenConstruct):
		return models.ReasonForbiddenConstruct, true
	case errors.Is(err, apperrors.ErrUnparseableInput):
		return models.ReasonUnparseableInput, true
	default:
		return "", false
	}
}
