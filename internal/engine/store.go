package engine

import (
	"sort"
	"sync"

	"ael/internal/api"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// Store keeps execution records in memory for the lifetime of the
// process. History does not survive restarts.
type Store struct {
	mu         sync.RWMutex
	executions map[string]*api.ExecutionResult
	order      []string
}

func NewStore() *Store {
	return &Store{executions: make(map[string]*api.ExecutionResult)}
}

// Put upserts an execution record. First insertion fixes its position
// in the history ordering. The record is copied, so Get and List hand
// out a stable snapshot even while the engine keeps mutating the
// original; the engine re-Puts on every status transition it wants
// visible.
func (s *Store) Put(result *api.ExecutionResult) {
	snapshot := snapshotExecution(result)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[snapshot.ExecutionID]; !exists {
		s.order = append(s.order, snapshot.ExecutionID)
	}
	s.executions[snapshot.ExecutionID] = snapshot
}

func snapshotExecution(result *api.ExecutionResult) *api.ExecutionResult {
	snapshot := *result
	snapshot.Steps = make([]*api.StepResult, len(result.Steps))
	for i, step := range result.Steps {
		stepCopy := *step
		snapshot.Steps[i] = &stepCopy
	}
	if result.Outputs != nil {
		outputs := make(map[string]interface{}, len(result.Outputs))
		for name, value := range result.Outputs {
			outputs[name] = value
		}
		snapshot.Outputs = outputs
	}
	return &snapshot
}

// Get returns the execution with the given id.
func (s *Store) Get(executionID string) (*api.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.executions[executionID]
	if !ok {
		return nil, api.NewExecutionNotFoundError(executionID)
	}
	return result, nil
}

// GetStep returns a single step's result from a stored execution.
func (s *Store) GetStep(executionID, stepID string) (*api.StepResult, error) {
	result, err := s.Get(executionID)
	if err != nil {
		return nil, err
	}
	for _, step := range result.Steps {
		if step.StepID == stepID {
			return step, nil
		}
	}
	return nil, api.NewValidationError("execution %s has no step %s", executionID, stepID)
}

// List returns a page of execution summaries, most recent first, with
// optional workflow and status filters.
func (s *Store) List(req *api.ListExecutionsRequest) *api.ListExecutionsResponse {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	var filtered []*api.ExecutionResult
	for _, id := range s.order {
		result := s.executions[id]
		if req.WorkflowID != "" && result.WorkflowID != req.WorkflowID {
			continue
		}
		if req.Status != "" && result.Status != req.Status {
			continue
		}
		filtered = append(filtered, result)
	}
	s.mu.RUnlock()

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].StartedAt.After(filtered[j].StartedAt)
	})

	total := len(filtered)
	var page []api.ExecutionSummary
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		for _, result := range filtered[offset:end] {
			page = append(page, summarize(result))
		}
	}

	return &api.ListExecutionsResponse{
		Executions: page,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
		HasMore:    offset+len(page) < total,
	}
}

func summarize(result *api.ExecutionResult) api.ExecutionSummary {
	return api.ExecutionSummary{
		ExecutionID: result.ExecutionID,
		WorkflowID:  result.WorkflowID,
		Status:      result.Status,
		StartedAt:   result.StartedAt,
		CompletedAt: result.CompletedAt,
		DurationMs:  result.DurationMs,
		StepCount:   len(result.Steps),
		Error:       result.Error,
	}
}
