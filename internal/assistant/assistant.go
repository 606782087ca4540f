// Package assistant produces the support agent's replies with langchaingo.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/vserve/internal/config"
	"github.com/raphaelgruber/vserve/internal/metrics"
	"github.com/raphaelgruber/vserve/internal/models"
)

// maxHistory bounds how many prior messages are sent with each query.
const maxHistory = 100

// ErrFatalAPI marks provider errors that retrying will not fix
// (credentials, billing, quota).
var ErrFatalAPI = errors.New("fatal API error")

// Responder answers customer queries.
type Responder interface {
	Reply(ctx context.Context, history []models.Message, query string) (Reply, error)
}

// Model is a Responder backed by a langchaingo model.
type Model struct {
	llm          llms.Model
	modelName    string
	systemPrompt string
	collector    *metrics.Collector
	logger       *slog.Logger
}

var (
	_ Responder = (*Model)(nil)
	_ Describer = (*Model)(nil)
)

// Option configures a Model.
type Option func(*Model)

// WithCollector records reply timings and token usage.
func WithCollector(c *metrics.Collector) Option {
	return func(m *Model) { m.collector = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Model) { m.logger = l }
}

// NewModel creates a responder for the configured provider.
func NewModel(ctx context.Context, cfg config.Config, opts ...Option) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, awsErr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if awsErr != nil {
			return nil, fmt.Errorf("load aws config: %w", awsErr)
		}
		model, err = bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
			bedrock.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	return newModel(model, cfg.LLMModel, prompt, opts...), nil
}

func newModel(model llms.Model, name, prompt string, opts ...Option) *Model {
	m := &Model{llm: model, modelName: name, systemPrompt: prompt, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// Reply sends the system prompt, the tail of the session history and the
// query, and returns the cleaned reply.
func (m *Model) Reply(ctx context.Context, history []models.Message, query string) (Reply, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Reply{}, fmt.Errorf("query is required")
	}

	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, m.systemPrompt))
	for _, msg := range history {
		switch msg.Role {
		case models.RoleUser:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, msg.Text))
		case models.RoleAssistant:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeAI, msg.Text))
		}
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, query))

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages)
	duration := time.Since(start)
	if err != nil {
		metrics.AssistantReplies.WithLabelValues("failed").Inc()
		if m.collector != nil {
			m.collector.RecordFailure(metrics.OpAssistant, duration)
		}
		m.logger.Warn("assistant reply failed", "model", m.modelName, "duration_ms", duration.Milliseconds(), "error", err)
		return Reply{}, fmt.Errorf("generate reply: %w", wrapFatalError(err))
	}
	if len(response.Choices) == 0 {
		return Reply{}, fmt.Errorf("no response choices")
	}

	choice := response.Choices[0]
	metrics.AssistantReplies.WithLabelValues("ok").Inc()
	if m.collector != nil {
		in, out := tokenUsage(choice.GenerationInfo)
		m.collector.RecordLLMUsage(metrics.OpAssistant, duration, in, out)
	}
	m.logger.Debug("assistant reply", "model", m.modelName, "duration_ms", duration.Milliseconds())

	return ParseReply(choice.Content), nil
}

// Describe writes a one or two sentence issue description from a customer's
// recent messages.
func (m *Model) Describe(ctx context.Context, queries []string) (string, error) {
	prompt := fmt.Sprintf("Based on these user messages: %s, provide a 1-2 sentence description of their issue.",
		strings.Join(queries, ", "))
	response, err := m.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, describeSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return "", fmt.Errorf("describe issue: %w", wrapFatalError(err))
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return cleanDescription(response.Choices[0].Content), nil
}

// tokenUsage reads token counts from provider-specific generation info.
func tokenUsage(info map[string]any) (int64, int64) {
	get := func(keys ...string) int64 {
		for _, k := range keys {
			switch v := info[k].(type) {
			case int:
				return int64(v)
			case int32:
				return int64(v)
			case int64:
				return v
			case float64:
				return int64(v)
			}
		}
		return 0
	}
	return get("PromptTokens", "InputTokens", "input_tokens"),
		get("CompletionTokens", "OutputTokens", "output_tokens")
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"credit balance", "rate limit", "quota exceeded", "billing",
		"invalid api key", "authentication", "unauthorized", "401", "403",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func wrapFatalError(err error) error {
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %w", ErrFatalAPI, err)
	}
	return err
}
