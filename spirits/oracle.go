/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package spirits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultModel    = "gpt-4o-mini"
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"

	unclear          = "The veil is unclear. Ask again."
	maxTokens        = 180
	temperature      = 0.7
	maxResponseBytes = 1 << 20
)

var errUnconfigured = errors.New("no API key configured")

// Reply is what the spirit said and whether it came from the model.
type Reply struct {
	Text      string `json:"text"`
	Spirit    string `json:"spirit"`
	Generated bool   `json:"generated"`
}

// Oracle answers prompts through an OpenAI-compatible chat completions
// endpoint, falling back to the canned replies when that is not possible.
type Oracle struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	logf     func(format string, args ...any)
}

type OracleOption func(*Oracle)

func WithModel(model string) OracleOption {
	return func(o *Oracle) {
		if model != "" {
			o.model = model
		}
	}
}

func WithEndpoint(endpoint string) OracleOption {
	return func(o *Oracle) {
		if endpoint != "" {
			o.endpoint = endpoint
		}
	}
}

func WithHTTPClient(c *http.Client) OracleOption {
	return func(o *Oracle) {
		o.client = c
	}
}

// WithUpstreamLimit caps calls to the model across all callers. Prompts
// over the limit get a canned reply.
func WithUpstreamLimit(l *rate.Limiter) OracleOption {
	return func(o *Oracle) {
		o.limiter = l
	}
}

func WithLogger(logf func(format string, args ...any)) OracleOption {
	return func(o *Oracle) {
		if logf != nil {
			o.logf = logf
		}
	}
}

func NewOracle(apiKey string, opts ...OracleOption) *Oracle {
	o := &Oracle{
		apiKey:   apiKey,
		model:    DefaultModel,
		endpoint: DefaultEndpoint,
		client:   &http.Client{Timeout: 20 * time.Second},
		logf:     func(string, ...any) {},
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Configured reports whether the oracle will try the model at all.
func (o *Oracle) Configured() bool {
	return o.apiKey != ""
}

// Ask answers prompt. persona is either a spirit's name or a free-form
// system prompt; empty picks a spirit at random. Ask always produces a
// reply unless ctx is done.
func (o *Oracle) Ask(ctx context.Context, prompt, persona string) (Reply, error) {
	spirit, known := Find(persona)
	if !known {
		spirit = Random()
	}

	system := spirit.Prompt()
	if persona != "" && !known {
		system = persona
	}

	text, err := o.complete(ctx, system, prompt)
	if err == nil {
		return Reply{Text: text, Spirit: spirit.Name, Generated: true}, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Reply{}, ctxErr
	}

	if !errors.Is(err, errUnconfigured) {
		o.logf("AI: Falling back to canned reply: %v", err)
	}

	return Reply{Text: spirit.Respond(prompt), Spirit: spirit.Name}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (o *Oracle) complete(ctx context.Context, system, prompt string) (string, error) {
	if !o.Configured() {
		return "", errUnconfigured
	}

	if o.limiter != nil && !o.limiter.Allow() {
		return "", errors.New("upstream limit reached")
	}

	body, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", err
	}

	if len(parsed.Choices) == 0 {
		return unclear, nil
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return unclear, nil
	}

	return text, nil
}
