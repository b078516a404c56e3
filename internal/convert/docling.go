// Package convert provides the conversion-engine implementations: a remote
// docling-serve client with full OCR/page-limit support and a local docconv
// extractor for plain text.
package convert

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mevra-dev/mevra/internal/core"
)

// DoclingEngine converts PDFs through a docling-serve instance.
type DoclingEngine struct {
	baseURL string
	httpc   *http.Client
}

func NewDoclingEngine(baseURL string) *DoclingEngine {
	return &DoclingEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Minute},
	}
}

type doclingOptions struct {
	ToFormats []string `json:"to_formats"`
	ForceOCR  bool     `json:"force_ocr"`
	OCRLang   []string `json:"ocr_lang,omitempty"`
	PageRange []int    `json:"page_range,omitempty"`
}

type doclingSource struct {
	Kind         string `json:"kind"`
	Filename     string `json:"filename"`
	Base64String string `json:"base64_string"`
}

type doclingRequest struct {
	Options doclingOptions  `json:"options"`
	Sources []doclingSource `json:"sources"`
}

type doclingResponse struct {
	Status   string `json:"status"`
	Document struct {
		MDContent string `json:"md_content"`
	} `json:"document"`
	Errors []struct {
		Message string `json:"error_message"`
	} `json:"errors"`
}

func (e *DoclingEngine) Convert(ctx context.Context, req *core.ConvertRequest) (*core.ConvertResult, error) {
	if len(req.Data) == 0 {
		return nil, core.Formatf("no document bytes to convert")
	}

	opts := doclingOptions{ToFormats: []string{"md"}, ForceOCR: req.ForceOCR}
	if req.Language != "" {
		opts.OCRLang = []string{req.Language}
	}
	if req.PageLimit > 0 {
		opts.PageRange = []int{1, req.PageLimit}
	}

	body, err := json.Marshal(doclingRequest{
		Options: opts,
		Sources: []doclingSource{{
			Kind:         "file",
			Filename:     "document.pdf",
			Base64String: base64.StdEncoding.EncodeToString(req.Data),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1alpha/convert/source", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpc.Do(httpReq)
	if err != nil {
		return nil, &core.ConversionError{PageLimit: req.PageLimit, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.ConversionError{PageLimit: req.PageLimit, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &core.ConversionError{
			PageLimit: req.PageLimit,
			Err:       fmt.Errorf("docling returned %d: %s", resp.StatusCode, truncate(string(raw), 200)),
		}
	}

	var out doclingResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &core.ConversionError{PageLimit: req.PageLimit, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Status != "success" && out.Status != "partial_success" {
		msg := out.Status
		if len(out.Errors) > 0 {
			msg = out.Errors[0].Message
		}
		return nil, &core.ConversionError{PageLimit: req.PageLimit, Err: fmt.Errorf("docling: %s", msg)}
	}

	return &core.ConvertResult{Text: out.Document.MDContent, Pages: req.PageLimit}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

var _ core.ConversionEngine = (*DoclingEngine)(nil)
