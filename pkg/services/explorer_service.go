package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/TFMV/quarry/pkg/agent"
	"github.com/TFMV/quarry/pkg/cache"
	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/explorer"
	"github.com/TFMV/quarry/pkg/models"
)

// explorerService implements ExplorerService interface.
type explorerService struct {
	explorer explorer.DatabaseExplorer
	asker    Asker
	results  cache.Cache[*models.TabularResult]
	keys     cache.KeyGenerator
	logger   Logger
	metrics  MetricsCollector
}

// NewExplorerService creates a new explorer service. asker may be nil when no
// model is configured; results may be nil to disable result caching.
func NewExplorerService(
	x explorer.DatabaseExplorer,
	asker Asker,
	results cache.Cache[*models.TabularResult],
	logger Logger,
	metrics MetricsCollector,
) ExplorerService {
	return &explorerService{
		explorer: x,
		asker:    asker,
		results:  results,
		keys:     &cache.DefaultKeyGenerator{},
		logger:   logger,
		metrics:  metrics,
	}
}

// Snapshot returns the last exploration, exploring first when there is none
// or refresh is set.
func (s *explorerService) Snapshot(ctx context.Context, refresh bool) (*models.Snapshot, error) {
	if snap := s.explorer.Snapshot(); snap != nil && !refresh {
		return snap, nil
	}

	timer := s.metrics.StartTimer("database_exploration")
	defer timer.Stop()

	s.logger.Info("Exploring database", "backend", s.explorer.Backend(), "database", s.explorer.DatabaseName())
	snap, err := s.explorer.ExploreDatabase(ctx)
	if err != nil {
		s.logger.Error("Failed to explore database", "error", err)
		s.metrics.IncrementCounter("database_exploration_errors")
		return nil, errors.Wrap(err, errors.CodeMetadataFailed, "failed to explore database")
	}
	if s.results != nil {
		s.results.Clear(ctx)
	}
	s.metrics.RecordGauge("database_entities", float64(snap.EntityCount()), "backend", s.explorer.Backend())
	return snap, nil
}

// Notes renders the exploration notes, exploring first if needed.
func (s *explorerService) Notes(ctx context.Context) (string, error) {
	if _, err := s.Snapshot(ctx, false); err != nil {
		return "", err
	}
	return s.explorer.GenerateNotes(), nil
}

// Query runs a find-style query, serving repeated queries from the cache.
func (s *explorerService) Query(ctx context.Context, entity string, params models.QueryParams) (*models.TabularResult, error) {
	if strings.TrimSpace(entity) == "" && params.Query == "" {
		s.metrics.IncrementCounter("query_validation_errors")
		return nil, errors.Newf(errors.CodeInvalidRequest, "%s is required", s.explorer.EntityKind())
	}
	return s.cached(ctx, "query", entity, params, func() (*models.TabularResult, error) {
		return s.explorer.ExecuteQuery(ctx, entity, params)
	})
}

// Aggregate runs an aggregation, serving repeated aggregations from the cache.
func (s *explorerService) Aggregate(ctx context.Context, entity string, params models.AggregationParams) (*models.TabularResult, error) {
	if strings.TrimSpace(entity) == "" && params.Query == "" {
		s.metrics.IncrementCounter("query_validation_errors")
		return nil, errors.Newf(errors.CodeInvalidRequest, "%s is required", s.explorer.EntityKind())
	}
	return s.cached(ctx, "aggregation", entity, params, func() (*models.TabularResult, error) {
		return s.explorer.ExecuteAggregation(ctx, entity, params)
	})
}

func (s *explorerService) cached(ctx context.Context, kind, entity string, params interface{}, run func() (*models.TabularResult, error)) (*models.TabularResult, error) {
	key := s.cacheKey(kind, entity, params)
	if s.results != nil && key != "" {
		if result, ok := s.results.Get(ctx, key); ok {
			s.metrics.IncrementCounter("query_cache_hits", "kind", kind)
			return result, nil
		}
		s.metrics.IncrementCounter("query_cache_misses", "kind", kind)
	}

	timer := s.metrics.StartTimer(kind + "_execution")
	defer timer.Stop()

	s.logger.Debug("Executing "+kind, "entity", entity)
	result, err := run()
	if err != nil {
		s.logger.Error("Failed to execute "+kind, "error", err, "entity", entity)
		s.metrics.IncrementCounter(kind + "_execution_errors")
		if errors.IsCoded(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, errors.CodeQueryFailed, "failed to execute %s", kind)
	}
	s.metrics.RecordHistogram(kind+"_rows", float64(result.Len()))

	if s.results != nil && key != "" {
		s.results.Put(ctx, key, result)
	}
	return result, nil
}

func (s *explorerService) cacheKey(kind, entity string, params interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return ""
	}
	fields["entity"] = entity
	return s.keys.GenerateKey(kind, fields)
}

// Chat answers a question with the tool-calling agent.
func (s *explorerService) Chat(ctx context.Context, question string) (*agent.Answer, error) {
	if s.asker == nil {
		return nil, errors.New(errors.CodeUnavailable, "no language model is configured")
	}
	if strings.TrimSpace(question) == "" {
		return nil, errors.New(errors.CodeInvalidRequest, "question is required")
	}

	timer := s.metrics.StartTimer("database_chat")
	defer timer.Stop()

	answer, err := s.asker.Ask(ctx, question)
	if err != nil {
		s.logger.Error("Failed to answer question", "error", err)
		s.metrics.IncrementCounter("database_chat_errors")
		return nil, errors.Wrap(err, errors.CodeLLMFailed, "failed to answer question")
	}
	s.metrics.RecordHistogram("database_chat_tool_calls", float64(len(answer.Steps)))
	if answer.Incomplete {
		s.logger.Warn("Answer stopped at the round limit", "rounds", answer.Rounds)
	}
	return answer, nil
}

// ResetChat forgets the agent's conversation.
func (s *explorerService) ResetChat(ctx context.Context) error {
	if s.asker == nil {
		return errors.New(errors.CodeUnavailable, "no language model is configured")
	}
	s.asker.Reset()
	s.metrics.IncrementCounter("database_chat_resets")
	s.logger.Info("Chat history cleared")
	return nil
}

// Status reports the connection state.
func (s *explorerService) Status(ctx context.Context) *models.ConnectionStatus {
	status := s.explorer.ConnectionStatus(ctx)
	if !status.Connected {
		s.metrics.IncrementCounter("connection_status_errors")
	}
	return status
}
