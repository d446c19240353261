// Package metrics queries aggregated usage data back out of Prometheus.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// TaskMetrics is the aggregated token usage for one task across every agent
// role that worked on it.
type TaskMetrics struct {
	TaskID           string `json:"task_id"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	Requests         int64  `json:"requests"`
}

// QueryService reads the counters the provider middleware publishes.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a query service against a Prometheus server.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetTaskMetrics aggregates token usage for one task.
func (q *QueryService) GetTaskMetrics(ctx context.Context, taskID string) (*TaskMetrics, error) {
	metrics := &TaskMetrics{TaskID: taskID}

	prompt, err := q.scalarQuery(ctx, fmt.Sprintf(`sum(llm_tokens_total{task_id=%q, type="prompt"})`, taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	metrics.PromptTokens = prompt

	completion, err := q.scalarQuery(ctx, fmt.Sprintf(`sum(llm_tokens_total{task_id=%q, type="completion"})`, taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	metrics.CompletionTokens = completion
	metrics.TotalTokens = metrics.PromptTokens + metrics.CompletionTokens

	requests, err := q.scalarQuery(ctx, fmt.Sprintf(`sum(llm_requests_total{task_id=%q})`, taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to query request count: %w", err)
	}
	metrics.Requests = requests

	return metrics, nil
}

// GetTaskMetricsByRole breaks a task's usage down per agent role.
func (q *QueryService) GetTaskMetricsByRole(ctx context.Context, taskID string) (map[string]*TaskMetrics, error) {
	result := make(map[string]*TaskMetrics)

	rolesQuery := fmt.Sprintf(`group by (agent_role) (llm_tokens_total{task_id=%q})`, taskID)
	rolesResult, _, err := q.queryAPI.Query(ctx, rolesQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query agent roles: %w", err)
	}
	vector, ok := rolesResult.(model.Vector)
	if !ok {
		return result, nil
	}

	for _, sample := range vector {
		role := string(sample.Metric["agent_role"])
		if role == "" {
			continue
		}
		m := &TaskMetrics{TaskID: taskID}

		m.PromptTokens, err = q.scalarQuery(ctx,
			fmt.Sprintf(`sum(llm_tokens_total{task_id=%q, agent_role=%q, type="prompt"})`, taskID, role))
		if err != nil {
			return nil, fmt.Errorf("failed to query prompt tokens for role %s: %w", role, err)
		}
		m.CompletionTokens, err = q.scalarQuery(ctx,
			fmt.Sprintf(`sum(llm_tokens_total{task_id=%q, agent_role=%q, type="completion"})`, taskID, role))
		if err != nil {
			return nil, fmt.Errorf("failed to query completion tokens for role %s: %w", role, err)
		}
		m.TotalTokens = m.PromptTokens + m.CompletionTokens
		result[role] = m
	}
	return result, nil
}

func (q *QueryService) scalarQuery(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
