// File: internal/oracle/client.go
package oracle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/guardian-cli/internal/config"
	"github.com/xkilldash9x/guardian-cli/internal/guard"
)

// verdictBad is the wire value the classification service uses for
// disallowed content; every other value is treated as allowed.
const verdictBad = "BAD"

// Stage is one classification backend. A stage answers whether the text is
// disallowed; an error means the stage could not decide, which the client
// treats as "allowed" (fail open).
type Stage interface {
	Name() string
	Check(ctx context.Context, text string) (bool, error)
}

// Client is the two-stage oracle. It fans the text out to all configured
// stages concurrently and OR-combines their answers: any stage reporting
// disallowed content blocks. Stage failures never block the supervised
// user; an unreachable oracle degrades to a permissive one.
type Client struct {
	stages  []Stage
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ guard.Classifier = (*Client)(nil)

// NewClient assembles the oracle from configuration. The fast sentence
// endpoint is always the first stage; the second stage is either the
// dedicated model endpoint or, when enabled, a direct model call.
func NewClient(cfg config.OracleConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FastURL == "" {
		return nil, fmt.Errorf("oracle: fast_url is required")
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	stages := []Stage{
		&httpStage{name: "fast", url: cfg.FastURL, client: httpClient},
	}
	if cfg.LLM.Enabled {
		llm, err := newLLMStage(cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("oracle: building model stage: %w", err)
		}
		stages = append(stages, llm)
	} else if cfg.SecondaryURL != "" {
		stages = append(stages, &httpStage{name: "secondary", url: cfg.SecondaryURL, client: httpClient})
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Client{
		stages:  stages,
		limiter: rate.NewLimiter(limit, burstFor(cfg.RateLimit)),
		logger:  logger.Named("oracle"),
	}, nil
}

func burstFor(limit float64) int {
	// Allow a small burst so a debounce flush followed by a submission
	// re-check does not queue behind the limiter.
	if limit <= 0 {
		return 1
	}
	if limit < 2 {
		return 2
	}
	return int(limit)
}

// Classify implements guard.Classifier. It never returns an error: any
// failure to obtain a judgment resolves to VerdictClean.
func (c *Client) Classify(ctx context.Context, text string) guard.Verdict {
	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Debug("Classification cancelled while rate limited.", zap.Error(err))
		return guard.VerdictClean
	}

	var bad atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	for _, stage := range c.stages {
		g.Go(func() error {
			hit, err := stage.Check(gctx, text)
			if err != nil {
				c.logger.Warn("Oracle stage unavailable; treating as allowed.",
					zap.String("stage", stage.Name()), zap.Error(err))
				return nil
			}
			if hit {
				bad.Store(true)
			}
			return nil
		})
	}
	// Stage errors are absorbed above, so this cannot fail.
	_ = g.Wait()

	if bad.Load() {
		return guard.VerdictBlocked
	}
	return guard.VerdictClean
}

// CheckText exposes the raw combined judgment for callers outside the
// surface pipeline, such as the navigation confirmation page.
func (c *Client) CheckText(ctx context.Context, text string) bool {
	return c.Classify(ctx, text) == guard.VerdictBlocked
}

// httpStage posts the text to one HTTP classification endpoint.
type httpStage struct {
	name   string
	url    string
	client *http.Client
}

type checkRequest struct {
	Sentence string `json:"sentence"`
}

type checkResponse struct {
	Result string `json:"result"`
	Reason string `json:"reason,omitempty"`
}

func (s *httpStage) Name() string { return s.name }

func (s *httpStage) Check(ctx context.Context, text string) (bool, error) {
	payload, err := json.Marshal(checkRequest{Sentence: text})
	if err != nil {
		return false, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused, then report.
		_, _ = io.CopyN(io.Discard, resp.Body, 512)
		return false, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	var out checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decoding response: %w", err)
	}
	return out.Result == verdictBad, nil
}
