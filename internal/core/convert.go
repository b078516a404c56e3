package core

import "context"

// ConvertRequest describes one conversion-engine invocation.
type ConvertRequest struct {
	Data      []byte
	PageLimit int    // maximum pages to process; 0 means engine default
	ForceOCR  bool   // OCR every page, even where embedded text exists
	Language  string // OCR language hint, e.g. "tr"
}

// ConvertResult is the engine's normalized output.
type ConvertResult struct {
	Text  string
	Pages int // pages actually processed, when the engine reports it
}

// ConversionEngine converts PDF bytes into normalized text. The engine is an
// external collaborator; implementations live in internal/convert.
type ConversionEngine interface {
	Convert(ctx context.Context, req *ConvertRequest) (*ConvertResult, error)
}
