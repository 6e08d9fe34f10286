// File: internal/oracle/llm.go
package oracle

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/guardian-cli/internal/config"
)

// llmPrompt frames the judgment so the model answers with the same two
// tokens the HTTP endpoints use. Nuance the fast stage misses (irony,
// grooming patterns, coded language) is exactly what this stage is for.
const llmPrompt = `You are a strict content safety checker for a child's device.
Judge whether the following text, typed or searched by a child, is harmful,
explicit, violent, or otherwise inappropriate for a minor.
Respond with exactly one word: BAD if it is inappropriate, NOT_BAD otherwise.

Text: %q`

// llmStage asks a generative model directly, replacing the secondary HTTP
// endpoint for households that run without a local model server.
type llmStage struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func newLLMStage(cfg config.LLMConfig, logger *zap.Logger) (*llmStage, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	return &llmStage{
		client: client,
		model:  cfg.Model,
		logger: logger.Named("oracle.llm"),
	}, nil
}

func (s *llmStage) Name() string { return "llm" }

func (s *llmStage) Check(ctx context.Context, text string) (bool, error) {
	resp, err := s.client.Models.GenerateContent(ctx, s.model,
		genai.Text(fmt.Sprintf(llmPrompt, text)), nil)
	if err != nil {
		return false, fmt.Errorf("generating judgment: %w", err)
	}

	answer := strings.ToUpper(strings.TrimSpace(resp.Text()))
	s.logger.Debug("Model judgment received.", zap.String("answer", answer))
	// The model must positively assert BAD; anything else, including an
	// empty or rambling answer, is treated as allowed.
	return answer == verdictBad || strings.HasPrefix(answer, verdictBad+" "), nil
}
