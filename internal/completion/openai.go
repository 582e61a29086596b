package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/common/config"
	"github.com/sqlopt/engine/internal/common/logger"
)

// OpenAIService is the one concrete Service binding the core ships,
// mirroring the teacher's openAIClient wrapping go-openai behind an
// internal interface (internal/llm/client/openai.go). The orchestrator
// depends only on the Service interface; this type is swappable.
type OpenAIService struct {
	client *openai.Client
	model  string
	log    logger.Logger
}

// NewOpenAIService builds a Service from LLMConfig.OpenAI. An empty API key
// is rejected at construction so misconfiguration surfaces at startup, not
// on the first optimization request.
func NewOpenAIService(cfg *config.OpenAIConfig) (*OpenAIService, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.NewInput("openai api key must not be empty")
	}
	oaCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIService{
		client: openai.NewClientWithConfig(oaCfg),
		model:  model,
		log:    logger.NewLogger("completion-openai"),
	}, nil
}

// Complete renders req into a single system+user chat exchange and returns
// the assistant's raw text. The caller's context deadline governs the
// underlying HTTP call directly.
func (s *OpenAIService) Complete(ctx context.Context, req *Request) (string, error) {
	s.log.Debugf("sending optimization completion request for engine %s", req.Engine)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: renderUserPrompt(req)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", apperrors.WrapUpstream(err, "openai chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.WrapUpstream(errors.New("no choices returned"), "openai chat completion")
	}
	return resp.Choices[0].Message.Content, nil
}

func systemPrompt() string {
	return "You are a SQL performance optimization assistant. Given a query, its " +
		"schema, execution plan, and detected issues, respond with an optimized " +
		"query inside <SQL>...</SQL> tags, followed by a prose explanation and a " +
		"bulleted list of general recommendations."
}

func renderUserPrompt(req *Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Engine: %s\n\n", req.Engine)
	fmt.Fprintf(&b, "Query:\n%s\n\n", req.SQL)
	if req.SchemaDDL != "" {
		fmt.Fprintf(&b, "Schema:\n%s\n\n", req.SchemaDDL)
	}
	if req.PlanJSON != "" {
		fmt.Fprintf(&b, "Execution plan (JSON):\n%s\n\n", req.PlanJSON)
	}
	if len(req.DetectedIssues) > 0 {
		b.WriteString("Detected issues:\n")
		for _, issue := range req.DetectedIssues {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", issue.Severity, issue.Title, issue.Description)
		}
		b.WriteString("\n")
	}
	if len(req.CandidatePatterns) > 0 {
		b.WriteString("Candidate rewrite patterns that have worked before:\n")
		for _, p := range req.CandidatePatterns {
			fmt.Fprintf(&b, "- %s: %s -> %s (success rate %.0f%%)\n",
				p.Type, p.OriginalTemplate, p.OptimizedTemplate, p.RollingSuccessRate*100)
		}
	}
	return b.String()
}
