package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/soyeahso/casefinder/internal/domain"
	"github.com/soyeahso/casefinder/internal/logging"
)

const (
	defaultChatEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"
	defaultCaseEndpoint = "https://api.dify.ai/v1/workflows/run"
	defaultChatModel    = "gemini-flash-lite-latest"
	defaultIntroModel   = "gemini-2.5-flash"
	defaultTimeout      = 60 * time.Second

	introMaxTokens   = 8192
	introTemperature = 0.8
	replyTemperature = 0.7
)

// Config holds generator credentials and endpoints. Empty keys are
// legal: the client then serves deterministic fallbacks without any
// network dependency.
type Config struct {
	APIKey       string        // chat generator key
	ChatModel    string        // reply model id
	IntroModel   string        // intro model id
	ChatEndpoint string        // chat API base URL
	CaseAPIKey   string        // case workflow key
	CaseEndpoint string        // case workflow URL
	Timeout      time.Duration // per-call bound; never left pending
}

// Client is the HTTP generation client.
type Client struct {
	cfg    Config
	client *http.Client
	log    *logging.Logger
}

// NewClient creates a generation client with defaults applied.
func NewClient(cfg Config, log *logging.Logger) *Client {
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}
	if cfg.IntroModel == "" {
		cfg.IntroModel = defaultIntroModel
	}
	if cfg.ChatEndpoint == "" {
		cfg.ChatEndpoint = defaultChatEndpoint
	}
	if cfg.CaseEndpoint == "" {
		cfg.CaseEndpoint = defaultCaseEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.Sub("genai"),
	}
}

// GenerateIntroduction produces the opening comment for a profile.
// Missing credentials, transport failure, and empty responses all fall
// back to the deterministic template so the caller never blocks on this.
func (c *Client) GenerateIntroduction(ctx context.Context, profile domain.Profile) string {
	if c.cfg.APIKey == "" {
		return FallbackIntroduction(profile)
	}

	body := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]string{{"text": buildIntroUserPrompt(profile)}}},
		},
		"systemInstruction": systemInstruction(introPersona),
		"generationConfig": map[string]any{
			"maxOutputTokens": introMaxTokens,
			"temperature":     introTemperature,
		},
	}

	text, err := c.generateContent(ctx, c.cfg.IntroModel, body)
	if err != nil || text == "" {
		if err != nil {
			c.log.Warn().Err(err).Msg("intro generation failed, using template")
		}
		return FallbackIntroduction(profile)
	}
	return text
}

// GenerateReply produces the next assistant reply. The system
// instruction carries persona, displayed cases, and profile context;
// the contents array carries only the prior turns in order. Generator
// failures become deterministic fallbacks; a cancelled or expired
// context is returned to the caller as an error.
func (c *Client) GenerateReply(ctx context.Context, turns []domain.Turn, profile domain.Profile, cases []domain.CaseStudy) (string, error) {
	lastUser := lastUserContent(turns)

	if c.cfg.APIKey == "" {
		return FallbackReply(lastUser, profile), nil
	}

	system := buildReplySystemPrompt(profile, cases)

	contents := make([]map[string]any, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]string{{"text": t.Content}},
		})
	}

	body := map[string]any{
		"contents":          contents,
		"systemInstruction": systemInstruction(system),
		"generationConfig": map[string]any{
			"maxOutputTokens": replyTokenBudget(turns, system),
			"temperature":     replyTemperature,
		},
	}

	text, err := c.generateContent(ctx, c.cfg.ChatModel, body)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.log.Warn().Err(err).Msg("reply generation failed, using apology")
		return Apology, nil
	}
	if text == "" {
		return FallbackReply(lastUser, profile), nil
	}
	return text, nil
}

// GenerateCases streams case generation for a profile. The stream ends
// with exactly one result or error event; decode-level problems are
// surfaced as error events the caller must handle.
func (c *Client) GenerateCases(ctx context.Context, profile domain.Profile, excludeTitles []string) (<-chan Event, error) {
	if c.cfg.CaseAPIKey == "" {
		return nil, fmt.Errorf("case generator key is not configured")
	}

	payload, err := json.Marshal(map[string]any{
		"inputs": map[string]any{
			"industry":       profile.IndustryLabel(),
			"job_category":   profile.CategoryLabel(),
			"detail":         profile.FreeText,
			"exclude_titles": strings.Join(excludeTitles, "、"),
		},
		"response_mode": "streaming",
		"user":          fmt.Sprintf("case-finder-%d", time.Now().UnixMilli()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	events := make(chan Event)
	go c.streamCases(ctx, events, payload)
	return events, nil
}

// streamCases runs the streaming request and forwards decoded events.
func (c *Client) streamCases(ctx context.Context, events chan<- Event, payload []byte) {
	defer close(events)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.cfg.CaseEndpoint, strings.NewReader(string(payload)))
	if err != nil {
		events <- Event{Type: EventError, Err: fmt.Sprintf("request creation failed: %v", err)}
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.CaseAPIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		events <- Event{Type: EventError, Err: fmt.Sprintf("request failed: %v", err)}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		events <- Event{Type: EventError, Err: fmt.Sprintf("API error (%d): %s", resp.StatusCode, string(body))}
		return
	}

	decoder := NewDecoder()
	defer decoder.Close()

	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, evt := range decoder.Feed(buf[:n]) {
				select {
				case events <- evt:
				case <-ctx.Done():
					return
				}
				if evt.Type == EventResult || evt.Type == EventError {
					return
				}
			}
		}
		if readErr != nil {
			if readErr != io.EOF && ctx.Err() == nil {
				events <- Event{Type: EventError, Err: fmt.Sprintf("stream read failed: %v", readErr)}
			}
			return
		}
	}
}

// generateContent performs a one-shot chat API call and returns the
// concatenated candidate text.
func (c *Client) generateContent(ctx context.Context, model string, body map[string]any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s",
		strings.TrimRight(c.cfg.ChatEndpoint, "/"), model, url.QueryEscape(c.cfg.APIKey))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result chatAPIResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	var text strings.Builder
	if len(result.Candidates) > 0 {
		for _, part := range result.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}
	return text.String(), nil
}

func systemInstruction(text string) map[string]any {
	return map[string]any{"parts": []map[string]string{{"text": text}}}
}

// lastUserContent returns the content of the newest user turn.
func lastUserContent(turns []domain.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RoleUser {
			return turns[i].Content
		}
	}
	return ""
}

// API response structures

type chatAPIResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}
