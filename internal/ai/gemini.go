// Package ai is the HTTP client for the Gemini inference API: free-text
// generation for sales/follow-up/probe messages and structured JSON
// classification for the moderator.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Turn is one conversation message in provider format.
// Role is "user" for the contact and "model" for the bot.
type Turn struct {
	Role string
	Text string
}

// Classification is the moderator verdict for a contact.
// IsClient nil means the model could not decide.
type Classification struct {
	IsClient   *bool   `json:"isClient"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Client calls the Gemini generateContent API.
type Client struct {
	apiKey      string
	apiBase     string
	model       string
	httpClient  *http.Client
	retryConfig RetryConfig
}

// NewClient creates a Gemini client for the given model.
func NewClient(apiKey, model, apiBase string) *Client {
	if apiBase == "" {
		apiBase = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &Client{
		apiKey:      apiKey,
		apiBase:     strings.TrimRight(apiBase, "/"),
		model:       model,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		retryConfig: DefaultRetryConfig(),
	}
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"system_instruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Generate produces free text from a system prompt plus conversation history.
func (c *Client) Generate(ctx context.Context, systemPrompt string, history []Turn, temperature float64) (string, error) {
	req := geminiRequest{
		GenerationConfig: generationConfig{Temperature: temperature, MaxOutputTokens: 2048},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}
	for _, t := range history {
		req.Contents = append(req.Contents, geminiContent{
			Role:  t.Role,
			Parts: []geminiPart{{Text: t.Text}},
		})
	}
	// The API requires at least one content entry and a trailing user turn.
	if len(req.Contents) == 0 || req.Contents[len(req.Contents)-1].Role != "user" {
		req.Contents = append(req.Contents, geminiContent{
			Role:  "user",
			Parts: []geminiPart{{Text: "Ответь на последнее сообщение."}},
		})
	}

	return RetryDo(ctx, c.retryConfig, func() (string, error) {
		text, err := c.generateContent(ctx, req)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(text), nil
	})
}

// ClassifyJSON runs a low-temperature prompt expected to yield a
// Classification JSON object, tolerating markdown code fences around it.
func (c *Client) ClassifyJSON(ctx context.Context, prompt string) (*Classification, error) {
	req := geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: generationConfig{Temperature: 0.1, MaxOutputTokens: 1024},
	}

	return RetryDo(ctx, c.retryConfig, func() (*Classification, error) {
		text, err := c.generateContent(ctx, req)
		if err != nil {
			return nil, err
		}
		result, err := ParseClassification(text)
		if err != nil {
			return nil, fmt.Errorf("parse classification: %w", err)
		}
		return result, nil
	})
}

func (c *Client) generateContent(ctx context.Context, req geminiRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.apiBase, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &apiError{status: resp.StatusCode, body: truncate(string(respBody), 300)}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini: empty response")
	}

	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if parsed.UsageMetadata != nil {
		slog.Debug("gemini usage",
			"prompt_tokens", parsed.UsageMetadata.PromptTokenCount,
			"output_tokens", parsed.UsageMetadata.CandidatesTokenCount)
	}
	return sb.String(), nil
}

var (
	fenceOpen  = regexp.MustCompile("(?m)^```(?:json)?\\s*\n")
	fenceClose = regexp.MustCompile("\n```\\s*$")
	jsonObject = regexp.MustCompile(`\{[^{}]*"isClient"[^{}]*\}`)
)

// ParseClassification extracts a Classification from model output, stripping
// markdown code fences and, failing that, hunting for the JSON object inside
// surrounding prose.
func ParseClassification(text string) (*Classification, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = fenceOpen.ReplaceAllString(text, "")
		text = fenceClose.ReplaceAllString(text, "")
		text = strings.TrimSpace(text)
	}

	var result Classification
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		match := jsonObject.FindString(text)
		if match == "" {
			return nil, err
		}
		if err := json.Unmarshal([]byte(match), &result); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
