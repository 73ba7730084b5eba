package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"
)

// OpenAIConfig configures the OpenAI-backed lookup.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	// Timeout bounds a single lookup, including pagination.
	Timeout time.Duration
	// RequestsPerSecond throttles outgoing lookups; 0 disables throttling.
	RequestsPerSecond float64
	Burst             int
}

// OpenAIClient reads run usage for Assistants threads.
type OpenAIClient struct {
	client  openai.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewOpenAIClient creates a lookup client from cfg. The SDK's own retries are
// disabled; wrap the client in Retrying to control retry policy.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		limiter: limiter,
		timeout: timeout,
	}, nil
}

// Lookup lists every run of the thread and returns the usage of each run that
// reported any. Runs still in progress carry no usage and are skipped.
func (c *OpenAIClient) Lookup(ctx context.Context, threadID string) ([]Record, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread id is required")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	iter := c.client.Beta.Threads.Runs.ListAutoPaging(ctx, threadID, openai.BetaThreadRunListParams{
		Limit: openai.Int(100),
	})

	var records []Record
	for iter.Next() {
		run := iter.Current()
		if run.Usage.PromptTokens == 0 && run.Usage.CompletionTokens == 0 {
			continue
		}
		records = append(records, Record{
			PromptTokens:     run.Usage.PromptTokens,
			CompletionTokens: run.Usage.CompletionTokens,
		})
	}
	if err := iter.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, fmt.Errorf("listing runs for thread %s: %w", threadID, err)
	}

	return records, nil
}
