package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTavilyBaseURL = "https://api.tavily.com"
	defaultMaxResults    = 5
	maxMaxResults        = 20
	tavilyDescription    = "Search the web for current information. Args: {\"query\": string, \"max_results\"?: int}"
)

// TavilySearch queries the Tavily search API
type TavilySearch struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTavilySearch creates a search tool. An empty apiKey is ErrNotConfigured.
func NewTavilySearch(apiKey, baseURL string, httpClient *http.Client, logger *zap.Logger) (*TavilySearch, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	if baseURL == "" {
		baseURL = defaultTavilyBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TavilySearch{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// buildTavily resolves the API key from tenant settings, then the platform default
func buildTavily(bc BuildContext) (Tool, error) {
	key := bc.Settings.APIKey
	if key == "" {
		key = bc.Defaults.TavilyAPIKey
	}
	baseURL := bc.Settings.Options["base_url"]
	if baseURL == "" {
		baseURL = bc.Defaults.TavilyBaseURL
	}
	return NewTavilySearch(key, baseURL, bc.HTTPClient, bc.Logger)
}

func (t *TavilySearch) Name() string        { return "tavily_search" }
func (t *TavilySearch) Description() string { return tavilyDescription }

type searchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Answer  string `json:"answer,omitempty"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// SearchResult is one hit returned to the caller
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchOutput is the tool result
type SearchOutput struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer,omitempty"`
	Results []SearchResult `json:"results"`
}

// Execute runs one search
func (t *TavilySearch) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args searchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, NewError(t.Name(), CodeInvalidArgs, "arguments must be a JSON object", 0, err)
	}
	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return nil, NewError(t.Name(), CodeInvalidArgs, "query is required", 0, nil)
	}
	if args.MaxResults <= 0 {
		args.MaxResults = defaultMaxResults
	}
	if args.MaxResults > maxMaxResults {
		args.MaxResults = maxMaxResults
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:      t.apiKey,
		Query:       args.Query,
		MaxResults:  args.MaxResults,
		SearchDepth: "basic",
	})
	if err != nil {
		return nil, NewError(t.Name(), CodeInvalidArgs, "failed to encode request", 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, NewError(t.Name(), CodeHTTP, "failed to create request", 0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, NewError(t.Name(), CodeHTTP, "search request failed", 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, NewError(t.Name(), CodeHTTP, "failed to read response", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("tavily search failed",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(respBody), 200)))
		return nil, NewError(t.Name(), CodeUpstream, fmt.Sprintf("search API returned status %d", resp.StatusCode), resp.StatusCode, nil)
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, NewError(t.Name(), CodeDecode, "failed to decode search response", resp.StatusCode, err)
	}

	out := SearchOutput{Query: args.Query, Answer: parsed.Answer, Results: make([]SearchResult, 0, len(parsed.Results))}
	for _, r := range parsed.Results {
		out.Results = append(out.Results, SearchResult{Title: r.Title, URL: r.URL, Content: r.Content, Score: r.Score})
	}

	return json.Marshal(out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
