package websearch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alinavoice/alina/pkg/ledger"
)

func responsesBody(text string, in, out int) map[string]any {
	return map[string]any{
		"output": []map[string]any{{
			"type": "message",
			"content": []map[string]any{{
				"type": "output_text",
				"text": text,
			}},
		}},
		"usage": map[string]any{"input_tokens": in, "output_tokens": out},
	}
}

func testClient(t *testing.T, handler http.HandlerFunc, ldg *ledger.CallLedger) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New("test-key", ldg, slog.New(slog.DiscardHandler))
	c.BaseURL = srv.URL
	return c
}

func TestSearchReturnsOutputText(t *testing.T) {
	var gotPath string
	var gotReq map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(responsesBody("The Wizards play at 7 PM tonight.", 120, 18))
	}, nil)

	text, err := c.Search(context.Background(), "When do the Wizards play tonight?")

	require.NoError(t, err)
	assert.Equal(t, "The Wizards play at 7 PM tonight.", text)
	assert.Equal(t, "/responses", gotPath)
	assert.Equal(t, "gpt-4o", gotReq["model"])
	tools := gotReq["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "web_search_preview", tools[0].(map[string]any)["type"])
}

func TestSearchFeedsLedger(t *testing.T) {
	ldg := ledger.NewRegistry().Ledger("CA1")
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(responsesBody("ok", 200, 50))
	}, ldg)

	_, err := c.Search(context.Background(), "anything")
	require.NoError(t, err)

	snap := ldg.Settle()
	assert.Equal(t, int64(200), snap.WebSearch.InputTokens)
	assert.Equal(t, int64(50), snap.WebSearch.OutputTokens)
	assert.Equal(t, "gpt-4o", snap.WebSearch.Model)
}

func TestVerifyAddressParsesEmbeddedJSON(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply := "Here is the result:\n{\"valid\": true, \"confidence\": 95, \"normalized_address\": \"1600 Pennsylvania Ave NW, Washington, DC 20500\", \"latitude\": 38.8977, \"longitude\": -77.0365, \"error\": \"\"}"
		json.NewEncoder(w).Encode(responsesBody(reply, 100, 40))
	}, nil)

	check, err := c.VerifyAddress(context.Background(), "1600 Pennsylvania Avenue")

	require.NoError(t, err)
	assert.True(t, check.Valid)
	assert.InDelta(t, 38.8977, check.Latitude, 1e-6)
	assert.InDelta(t, -77.0365, check.Longitude, 1e-6)
	assert.Equal(t, "1600 Pennsylvania Ave NW, Washington, DC 20500", check.NormalizedAddress)
}

func TestVerifyAddressNoJSON(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(responsesBody("I could not find that address.", 80, 10))
	}, nil)

	check, err := c.VerifyAddress(context.Background(), "asdf qwerty")

	require.Error(t, err)
	assert.False(t, check.Valid)
	assert.Equal(t, "could not parse JSON from response", check.Error)
}

func TestWeatherFallback(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}, nil)

	got := c.Weather(context.Background(), "Silver Spring, MD")
	assert.Equal(t, WeatherUnavailable, got)
}

func TestSearchSummarizedFallsBackToRaw(t *testing.T) {
	calls := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			json.NewEncoder(w).Encode(responsesBody("long raw result with sources", 100, 80))
			return
		}
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}, nil)

	got, err := c.SearchSummarized(context.Background(), "pharmacies near Rockville")
	require.NoError(t, err)
	assert.Equal(t, "long raw result with sources", got)
	assert.Equal(t, 2, calls)
}

func TestSummaryTokenCap(t *testing.T) {
	var caps []float64
	calls := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if v, ok := req["max_output_tokens"].(float64); ok {
			caps = append(caps, v)
		}
		json.NewEncoder(w).Encode(responsesBody("short", 10, 5))
	}, nil)

	_, err := c.SearchSummarized(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, caps, 1)
	assert.Equal(t, float64(DefaultSummaryMaxTokens), caps[0])
}
