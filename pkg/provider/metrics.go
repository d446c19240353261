package provider

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"quorum/pkg/logx"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Recorder receives observations about provider calls.
type Recorder interface {
	ObserveRequest(provider, taskID, agentRole string, promptTokens, completionTokens int,
		success bool, errorType string, duration time.Duration)
}

// PrometheusRecorder implements Recorder on Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder with metrics registered on the
// default registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by provider, task, role, and status",
			},
			[]string{"provider", "task_id", "agent_role", "status", "error_type"},
		),
		tokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"provider", "task_id", "agent_role", "type"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "task_id", "agent_role"},
		),
	}
}

// ObserveRequest implements Recorder.
func (p *PrometheusRecorder) ObserveRequest(provider, taskID, agentRole string,
	promptTokens, completionTokens int, success bool, errorType string, duration time.Duration) {
	status := statusSuccess
	if !success {
		status = statusError
	}
	p.requestsTotal.WithLabelValues(provider, taskID, agentRole, status, errorType).Inc()
	if success {
		p.tokensTotal.WithLabelValues(provider, taskID, agentRole, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(provider, taskID, agentRole, "completion").Add(float64(completionTokens))
	}
	p.requestDuration.WithLabelValues(provider, taskID, agentRole).Observe(duration.Seconds())
}

// CallInfo identifies the orchestration context of a chat call for metric
// labels.
type CallInfo struct {
	TaskID    string
	AgentRole string
}

type callInfoKey struct{}

// WithCallInfo attaches call labels to a context.
func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFrom extracts call labels from a context, zero value if absent.
func CallInfoFrom(ctx context.Context) CallInfo {
	if info, ok := ctx.Value(callInfoKey{}).(CallInfo); ok {
		return info
	}
	return CallInfo{}
}

// meteredChat wraps a ChatClient with request metrics and usage logging.
type meteredChat struct {
	next     ChatClient
	recorder Recorder
	counter  *TokenCounter
	logger   *logx.Logger
}

// WithMetrics wraps a chat client so every call is observed by the
// recorder. Token usage is counted locally with the tokenizer so all
// backends report uniformly.
func WithMetrics(next ChatClient, recorder Recorder) ChatClient {
	counter, err := NewTokenCounter()
	if err != nil {
		counter = nil
	}
	return &meteredChat{
		next:     next,
		recorder: recorder,
		counter:  counter,
		logger:   logx.NewLogger("llm-metrics"),
	}
}

func (m *meteredChat) Name() string { return m.next.Name() }

func (m *meteredChat) Chat(ctx context.Context, messages []Message, opts Options) (Completion, error) {
	start := time.Now()
	resp, err := m.next.Chat(ctx, messages, opts)
	duration := time.Since(start)

	var promptTokens, completionTokens int
	if err == nil {
		var promptText string
		for i := range messages {
			promptText += messages[i].Content + "\n"
		}
		promptTokens = m.counter.CountTokens(promptText)
		completionTokens = m.counter.CountTokens(resp.Content)
	}

	errorType := ""
	if err != nil {
		if pe := AsError(err); pe != nil {
			errorType = pe.Type.String()
		} else {
			errorType = classify(err).String()
		}
	}

	info := CallInfoFrom(ctx)
	m.recorder.ObserveRequest(m.next.Name(), info.TaskID, info.AgentRole,
		promptTokens, completionTokens, err == nil, errorType, duration)

	status := statusSuccess
	if err != nil {
		status = statusError
	}
	m.logger.Debug("chat provider=%s task=%s role=%s tokens=%d+%d status=%s duration=%dms",
		m.next.Name(), info.TaskID, info.AgentRole, promptTokens, completionTokens,
		status, duration.Milliseconds())

	return resp, err
}
