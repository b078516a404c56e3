// Package vectorindex talks to the external semantic index over the OpenAI
// vector-stores wire protocol: file upload, attach-to-store with attributes,
// attribute updates on existing files, and query-time search.
package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/mevra-dev/mevra/internal/core"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func NewClient(baseURL, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("index api key not set")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// CreateFile streams the document bytes to the files endpoint and returns the
// external file id.
func (c *Client) CreateFile(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "user_data"); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return "", fmt.Errorf("copy file body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/files", mw.FormDataContentType(), &buf, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &core.ExternalServiceError{Service: "index", Err: fmt.Errorf("file create returned no id")}
	}
	return out.ID, nil
}

func (c *Client) AttachFile(ctx context.Context, indexID, fileID string, attrs map[string]any) error {
	body := map[string]any{"file_id": fileID}
	if len(attrs) > 0 {
		body["attributes"] = attrs
	}
	path := fmt.Sprintf("/vector_stores/%s/files", indexID)
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

func (c *Client) UpdateFileAttributes(ctx context.Context, indexID, fileID string, attrs map[string]any) error {
	path := fmt.Sprintf("/vector_stores/%s/files/%s", indexID, fileID)
	return c.doJSON(ctx, http.MethodPost, path, map[string]any{"attributes": attrs}, nil)
}

type searchResponse struct {
	Data []struct {
		Filename   string         `json:"filename"`
		Score      float64        `json:"score"`
		Attributes map[string]any `json:"attributes"`
		Content    []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

func (c *Client) Search(ctx context.Context, indexID string, req *core.IndexSearchRequest) ([]core.IndexSearchResult, error) {
	body := map[string]any{
		"query":           req.Query,
		"max_num_results": req.MaxResults,
		"rewrite_query":   req.RewriteQuery,
	}
	if req.Filter != nil {
		body["filters"] = req.Filter
	}
	if req.ScoreThreshold > 0 {
		body["ranking_options"] = map[string]any{"score_threshold": req.ScoreThreshold}
	}

	var resp searchResponse
	path := fmt.Sprintf("/vector_stores/%s/search", indexID)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}

	var out []core.IndexSearchResult
	for _, item := range resp.Data {
		for _, content := range item.Content {
			if content.Type != "" && content.Type != "text" {
				continue
			}
			out = append(out, core.IndexSearchResult{
				Text:       content.Text,
				Filename:   item.Filename,
				Score:      item.Score,
				Attributes: item.Attributes,
			})
		}
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, "application/json", bytes.NewReader(raw), out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &core.ExternalServiceError{Service: "index", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &core.ExternalServiceError{Service: "index", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.ReplaceAll(string(raw), "\n", " ")
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		return &core.ExternalServiceError{
			Service: "index",
			Err:     fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, snippet),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &core.ExternalServiceError{Service: "index", Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

var _ core.SemanticIndex = (*Client)(nil)
