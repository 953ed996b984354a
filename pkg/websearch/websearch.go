// Package websearch wraps the OpenAI responses API with the hosted
// web-search tool. The agent uses it for open-ended research, address
// verification, and the weather line spoken after a booking.
package websearch

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

	"github.com/alinavoice/alina/pkg/errorsx"
	"github.com/alinavoice/alina/pkg/ledger"
)

// Model is pinned: the hosted web-search tool is only reliable on it.
const Model = "gpt-4o"

// DefaultSummaryMaxTokens bounds the spoken summary of a search result.
const DefaultSummaryMaxTokens = 100

// WeatherUnavailable is spoken when the weather lookup fails.
const WeatherUnavailable = "Weather information is not available at this time."

type Client struct {
	APIKey           string
	BaseURL          string
	HTTPClient       *http.Client
	SummaryMaxTokens int

	ldg    *ledger.CallLedger
	logger *slog.Logger
}

func New(apiKey string, ldg *ledger.CallLedger, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		APIKey:           apiKey,
		BaseURL:          "https://api.openai.com/v1",
		HTTPClient:       &http.Client{Timeout: 60 * time.Second},
		SummaryMaxTokens: DefaultSummaryMaxTokens,
		ldg:              ldg,
		logger:           logger,
	}
}

type responsesRequest struct {
	Model           string           `json:"model"`
	Input           string           `json:"input"`
	Tools           []map[string]any `json:"tools,omitempty"`
	MaxOutputTokens int              `json:"max_output_tokens,omitempty"`
}

type responsesResult struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (r responsesResult) text() string {
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" {
				return c.Text
			}
		}
	}
	return ""
}

func webSearchTool() []map[string]any {
	return []map[string]any{{
		"type":                "web_search_preview",
		"search_context_size": "low",
		"user_location": map[string]any{
			"type":     "approximate",
			"country":  "US",
			"timezone": "America/New_York",
		},
	}}
}

func (c *Client) responses(ctx context.Context, req responsesRequest) (responsesResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return responsesResult{}, errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return responsesResult{}, errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return responsesResult{}, errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return responsesResult{}, errorsx.New(errorsx.ReasonLLMGenerate, "responses api status %d: %s", resp.StatusCode, string(raw))
	}
	var out responsesResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return responsesResult{}, errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
	}
	if c.ldg != nil {
		c.ldg.AddWebSearchTokens(Model, out.Usage.InputTokens, out.Usage.OutputTokens)
	}
	return out, nil
}

// Search runs a raw web search and returns the model's text.
func (c *Client) Search(ctx context.Context, prompt string) (string, error) {
	c.logger.Debug("web_search", "prompt", prompt)
	res, err := c.responses(ctx, responsesRequest{
		Model: Model,
		Input: prompt,
		Tools: webSearchTool(),
	})
	if err != nil {
		return "", err
	}
	text := res.text()
	if text == "" {
		return "", errorsx.New(errorsx.ReasonLLMGenerate, "empty web search response")
	}
	return text, nil
}

// SearchSummarized runs Search and condenses the result to something a
// voice agent can read aloud. If summarisation fails the raw result is
// returned.
func (c *Client) SearchSummarized(ctx context.Context, prompt string) (string, error) {
	raw, err := c.Search(ctx, prompt)
	if err != nil {
		return "", err
	}
	summary, err := c.responses(ctx, responsesRequest{
		Model:           Model,
		Input:           "Summarize the following for a phone conversation. Plain sentences only, no lists, no URLs, no markdown:\n\n" + raw,
		MaxOutputTokens: c.summaryTokens(),
	})
	if err != nil || summary.text() == "" {
		c.logger.Warn("web_search_summary_failed", "error", err)
		return raw, nil
	}
	return summary.text(), nil
}

// Weather returns the two-line weather narrative for an address, or
// WeatherUnavailable on any failure.
func (c *Client) Weather(ctx context.Context, address string) string {
	prompt := fmt.Sprintf(`What is the current weather in %s? Provide a concise response with exactly two lines:

Line 1: State the current temperature and conditions.
Line 2: Give relevant weather-appropriate advice.

Keep it short and helpful:
- Current temperature and sky conditions
- Practical advice based on the weather conditions`, address)

	text, err := c.Search(ctx, prompt)
	if err != nil {
		c.logger.Warn("weather_lookup_failed", "error", err)
		return WeatherUnavailable
	}
	return text
}

// AddressCheck is the strict JSON the verification prompt demands.
type AddressCheck struct {
	Valid             bool    `json:"valid"`
	Confidence        float64 `json:"confidence"`
	NormalizedAddress string  `json:"normalized_address"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	Error             string  `json:"error"`
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// VerifyAddress asks the web-search model whether an address exists,
// demanding a JSON-only reply and tolerating prose around it.
func (c *Client) VerifyAddress(ctx context.Context, address string) (AddressCheck, error) {
	prompt := fmt.Sprintf(`Verify if this address is valid or not:
`+"```"+`
%s
`+"```"+`

Please respond ONLY with a valid JSON object in the following format:
{
    "valid": true/false,
    "confidence": 0-100,
    "normalized_address": "full normalized address if valid",
    "latitude": numeric value if valid (e.g., 38.9072),
    "longitude": numeric value if valid (e.g., -77.0369),
    "error": "reason if invalid or empty string if valid"
}

Ensure your response contains ONLY the JSON object with no additional text, explanation, or formatting.`, address)

	text, err := c.Search(ctx, prompt)
	if err != nil {
		return AddressCheck{Error: err.Error()}, err
	}
	return parseAddressCheck(text)
}

func parseAddressCheck(text string) (AddressCheck, error) {
	match := jsonObjectRe.FindString(text)
	if match == "" {
		return AddressCheck{Error: "could not parse JSON from response"},
			errorsx.New(errorsx.ReasonLLMJSONParse, "no JSON object in verification response")
	}
	var check AddressCheck
	if err := json.Unmarshal([]byte(match), &check); err != nil {
		return AddressCheck{Error: "could not parse JSON from response"},
			errorsx.Wrap(err, errorsx.ReasonLLMJSONParse)
	}
	return check, nil
}

// GetAddress narrows a vague spoken address to candidates in the
// caller's area and summarises them for the voice channel.
func (c *Client) GetAddress(ctx context.Context, prompt, country, city, state string) (string, error) {
	var scope []string
	for _, s := range []string{city, state, country} {
		if strings.TrimSpace(s) != "" {
			scope = append(scope, strings.TrimSpace(s))
		}
	}
	full := prompt
	if len(scope) > 0 {
		full = fmt.Sprintf("%s\nRestrict the search to: %s.", prompt, strings.Join(scope, ", "))
	}
	return c.SearchSummarized(ctx, full)
}

func (c *Client) summaryTokens() int {
	if c.SummaryMaxTokens > 0 {
		return c.SummaryMaxTokens
	}
	return DefaultSummaryMaxTokens
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
