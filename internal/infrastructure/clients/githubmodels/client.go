// Package githubmodels talks to the GitHub Models inference endpoint, which
// speaks the OpenAI chat-completions protocol.
package githubmodels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sony/gobreaker"
	"github.com/zatekoja/concussionrehab/internal/domain/entities"
	"github.com/zatekoja/concussionrehab/pkg/config"
	apperrors "github.com/zatekoja/concussionrehab/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://models.inference.ai.azure.com"
	defaultModel   = "gpt-4o"
	defaultTopP    = 0.9
)

// Client implements providers.ChatCompletionProvider.
type Client struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	transport   http.RoundTripper
}

// contextTransport binds every outgoing request to ctx so that a caller's
// deadline aborts the in-flight HTTP call.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// NewClient creates a new GitHub Models chat client.
func NewClient(cfg *config.ChatModelConfig) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("github models token is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	client := openai.NewClient(
		option.WithBaseURL(strings.TrimSuffix(baseURL, "/")+"/"),
		option.WithAPIKey(cfg.APIKey),
		// the analysis service falls back to rule-based output instead
		option.WithMaxRetries(0),
	)

	return &Client{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		limiter:     newLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst),
		transport:   http.DefaultTransport.(*http.Transport).Clone(),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "github-models",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}, nil
}

func newLimiter(rpm, burst int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 5
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Complete sends messages to the model and returns the first choice's text.
// Every failure is reported as a provider error.
func (c *Client) Complete(ctx context.Context, messages []entities.ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", apperrors.NewProviderError("no messages to send", nil)
	}

	if c.limiter != nil {
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			recordChatMetric(ctx, c.model, 0, err)
			return "", apperrors.NewProviderError("rate limiter wait aborted", err)
		}
		recordRateLimitWait(ctx, c.model, time.Since(waitStart))
	}

	params := openai.ChatCompletionNewParams{
		Messages:    toParams(messages),
		Model:       c.model,
		Temperature: openai.Float(c.temperature),
		TopP:        openai.Float(defaultTopP),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		httpClient := &http.Client{Transport: contextTransport{ctx: ctx, base: c.transport}}
		resp, err := c.client.Chat.Completions.New(ctx, params, option.WithHTTPClient(httpClient))
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("model returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
	recordChatMetric(ctx, c.model, time.Since(start), err)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", apperrors.NewProviderError("github models circuit open", err)
		}
		return "", apperrors.NewProviderError(fmt.Sprintf("github models request failed (model %s)", c.model), err)
	}

	text := strings.TrimSpace(out.(string))
	if text == "" {
		return "", apperrors.NewProviderError("github models returned empty content", nil)
	}
	return text, nil
}

func toParams(messages []entities.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case entities.ChatRoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case entities.ChatRoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

type chatMetrics struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestErrors   metric.Int64Counter
	rateLimitWait   metric.Float64Histogram
}

var (
	chatMetricsOnce sync.Once
	chatMetricsInst *chatMetrics
)

func ensureChatMetrics() *chatMetrics {
	chatMetricsOnce.Do(func() {
		meter := otel.Meter("github.com/zatekoja/concussionrehab/githubmodels")

		requestCount, err := meter.Int64Counter(
			"ai.chat.request.count",
			metric.WithDescription("Number of hosted chat-completion requests"),
		)
		if err != nil {
			return
		}
		requestDuration, err := meter.Float64Histogram(
			"ai.chat.request.duration",
			metric.WithDescription("Hosted chat-completion request duration in milliseconds"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			return
		}
		requestErrors, err := meter.Int64Counter(
			"ai.chat.request.errors",
			metric.WithDescription("Number of failed hosted chat-completion requests"),
		)
		if err != nil {
			return
		}
		rateLimitWait, err := meter.Float64Histogram(
			"ai.chat.rate_limit.wait",
			metric.WithDescription("Time spent waiting for the chat rate limiter in milliseconds"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			return
		}

		chatMetricsInst = &chatMetrics{
			requestCount:    requestCount,
			requestDuration: requestDuration,
			requestErrors:   requestErrors,
			rateLimitWait:   rateLimitWait,
		}
	})
	return chatMetricsInst
}

func recordChatMetric(ctx context.Context, model string, duration time.Duration, err error) {
	m := ensureChatMetrics()
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("ai.provider", "github-models"),
		attribute.String("ai.model", model),
	)
	m.requestCount.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.requestErrors.Add(ctx, 1, attrs)
	}
}

func recordRateLimitWait(ctx context.Context, model string, wait time.Duration) {
	m := ensureChatMetrics()
	if m == nil {
		return
	}
	m.rateLimitWait.Record(ctx, float64(wait.Milliseconds()),
		metric.WithAttributes(attribute.String("ai.model", model)))
}
