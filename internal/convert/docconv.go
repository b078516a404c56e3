package convert

import (
	"bytes"
	"context"
	"strings"

	"code.sajari.com/docconv"

	"github.com/mevra-dev/mevra/internal/core"
)

// DocconvEngine extracts embedded text locally with sajari/docconv. It cannot
// OCR and processes the whole document regardless of page limit, so it only
// serves deployments without a docling instance.
type DocconvEngine struct{}

func NewDocconvEngine() *DocconvEngine { return &DocconvEngine{} }

func (e *DocconvEngine) Convert(ctx context.Context, req *core.ConvertRequest) (*core.ConvertResult, error) {
	if len(req.Data) == 0 {
		return nil, core.Formatf("no document bytes to convert")
	}
	if req.ForceOCR {
		return nil, &core.ConversionError{
			PageLimit: req.PageLimit,
			Err:       core.Formatf("local extractor does not support OCR"),
		}
	}

	res, err := docconv.Convert(bytes.NewReader(req.Data), "application/pdf", false)
	if err != nil {
		return nil, &core.ConversionError{PageLimit: req.PageLimit, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(res.Body)
	return &core.ConvertResult{Text: text}, nil
}

var _ core.ConversionEngine = (*DocconvEngine)(nil)
