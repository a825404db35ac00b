// Package provider implements the model-facing ports on the official OpenAI
// SDK. One Client serves every modality; the model used for each call is
// resolved from the capability set at call time.
package provider

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"rolebot/internal/capability"
	"rolebot/internal/domain"
)

const defaultHTTPTimeout = 120 * time.Second

// Config configures the OpenAI-backed provider client.
type Config struct {
	APIKey  string
	APIBase string // optional, for OpenAI-compatible endpoints
	Caps    capability.Set
	Logger  *slog.Logger

	// Temperature and MaxTokens apply to chat generation calls; zero leaves
	// the backend default in place.
	Temperature float64
	MaxTokens   int
	// RequestTimeout bounds every API call; zero means defaultHTTPTimeout.
	RequestTimeout time.Duration
}

// Client is the OpenAI-backed implementation of the generation, analysis,
// and moderation ports.
type Client struct {
	api    openai.Client
	caps   capability.Set
	logger *slog.Logger

	temperature float64
	maxTokens   int
}

// New creates a provider client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("provider: api key required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: requestTimeout(cfg.RequestTimeout)}),
	}
	if base := strings.TrimSpace(cfg.APIBase); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(base, "/")))
	}

	return &Client{
		api:         openai.NewClient(opts...),
		caps:        cfg.Caps,
		logger:      cfg.Logger,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func requestTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultHTTPTimeout
	}
	return d
}

// chatParams builds the parameters for a chat generation call, applying the
// configured sampling temperature and completion cap.
func (c *Client) chatParams(model string, req domain.TextRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: buildMessages(req),
	}
	if c.temperature > 0 {
		params.Temperature = param.NewOpt(c.temperature)
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(c.maxTokens))
	}
	return params
}

// buildMessages converts a text request into chat messages: system prompt,
// then persisted history turns, then the current user input.
func buildMessages(req domain.TextRequest) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}
	for _, turn := range req.History {
		if turn.Text == "" {
			continue
		}
		if turn.Sender == domain.SenderBot {
			msgs = append(msgs, openai.AssistantMessage(turn.Text))
		} else {
			msgs = append(msgs, openai.UserMessage(turn.Text))
		}
	}
	msgs = append(msgs, openai.UserMessage(req.UserInput))
	return msgs
}
