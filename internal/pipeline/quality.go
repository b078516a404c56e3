package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// glyphRe matches the placeholder tokens the converter emits for glyphs it
// could not map to text. A high count means the PDF needs OCR.
var glyphRe = regexp.MustCompile(`GLYPH<[^>]*>`)

// QualityConfig holds the thresholds for converted-text health checks.
type QualityConfig struct {
	// GlyphArtifactLimit is the unmapped-glyph placeholder count at which
	// the text counts as garbled. Reaching the limit fires the check.
	GlyphArtifactLimit int

	// ReplacementCharLimit is the U+FFFD count at which the check fires.
	ReplacementCharLimit int

	// MinTextLen is the minimum plausible text length for a non-trivial PDF.
	MinTextLen int

	// MinTextPerByte flags large PDFs that yielded almost no text: below
	// this text-length/file-size ratio the extraction likely failed.
	MinTextPerByte float64
	// LargeFileSize is the file size above which MinTextPerByte applies.
	LargeFileSize int64

	// MinAlphaRatio is the minimum share of letters among non-space runes.
	MinAlphaRatio float64

	// MaxAvgTokenLen flags text whose whitespace tokens are implausibly
	// long, a symptom of lost word boundaries.
	MaxAvgTokenLen float64
	// MaxLongTokenRatio is the max share of tokens of 30+ runes.
	MaxLongTokenRatio float64

	// MinPureTokenRatio is the minimum share of purely alphabetic tokens.
	MinPureTokenRatio float64
	// MaxOtherTokenRatio is the max share of tokens carrying no letters
	// and no digits, or digits mixed with symbols only.
	MaxOtherTokenRatio float64

	// MaxNoisyLineRatio is the max share of noisy lines: lines with no
	// letters at all, or substantial lines with very low letter density.
	MaxNoisyLineRatio float64
	// NoisyLineMinLen is the rune count from which a line is substantial
	// enough for the density check.
	NoisyLineMinLen int
	// NoisyLineAlphaRatio is the letter density below which a substantial
	// line counts as noisy.
	NoisyLineAlphaRatio float64
}

// DefaultQualityConfig returns the thresholds tuned against converter output
// for scanned government PDFs.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		GlyphArtifactLimit:   10,
		ReplacementCharLimit: 20,
		MinTextLen:           200,
		MinTextPerByte:       0.001,
		LargeFileSize:        200 * 1024,
		MinAlphaRatio:        0.5,
		MaxAvgTokenLen:       14,
		MaxLongTokenRatio:    0.05,
		MinPureTokenRatio:    0.35,
		MaxOtherTokenRatio:   0.2,
		MaxNoisyLineRatio:    0.4,
		NoisyLineMinLen:      20,
		NoisyLineAlphaRatio:  0.3,
	}
}

// CountGlyphArtifacts counts unmapped-glyph placeholders in text.
func CountGlyphArtifacts(text string) int {
	return len(glyphRe.FindAllStringIndex(text, -1))
}

// NeedsOCR reports whether the plain extraction is garbled enough that the
// document should be re-converted with OCR forced.
func (qc QualityConfig) NeedsOCR(text string) bool {
	return CountGlyphArtifacts(text) >= qc.GlyphArtifactLimit
}

// Assess runs all health checks against converted text and returns the list
// of failed-check reasons. An empty slice means the text looks healthy.
// fileSize is the size of the source PDF; pass 0 when unknown.
func (qc QualityConfig) Assess(text string, fileSize int64) []string {
	var reasons []string
	text = strings.TrimSpace(text)

	if n := CountGlyphArtifacts(text); n >= qc.GlyphArtifactLimit {
		reasons = append(reasons, fmt.Sprintf("glyph_artifacts:%d", n))
	}
	if n := strings.Count(text, "�"); n >= qc.ReplacementCharLimit {
		reasons = append(reasons, fmt.Sprintf("replacement_chars:%d", n))
	}
	if len(text) < qc.MinTextLen {
		reasons = append(reasons, fmt.Sprintf("text_too_short:%d", len(text)))
	}
	if fileSize > qc.LargeFileSize {
		ratio := float64(len(text)) / float64(fileSize)
		if ratio < qc.MinTextPerByte {
			reasons = append(reasons, fmt.Sprintf("low_text_yield:%.5f", ratio))
		}
	}

	alpha, nonSpace := 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		nonSpace++
		if unicode.IsLetter(r) {
			alpha++
		}
	}
	if nonSpace > 0 {
		if ratio := float64(alpha) / float64(nonSpace); ratio < qc.MinAlphaRatio {
			reasons = append(reasons, fmt.Sprintf("low_alpha_ratio:%.2f", ratio))
		}
	}

	tokens := strings.Fields(text)
	if len(tokens) > 0 {
		totalLen, long, pure, other := 0, 0, 0, 0
		for _, t := range tokens {
			n := len([]rune(t))
			totalLen += n
			if n >= 30 {
				long++
			}
			switch classifyToken(t) {
			case tokenPure:
				pure++
			case tokenOther:
				other++
			}
		}
		if avg := float64(totalLen) / float64(len(tokens)); avg > qc.MaxAvgTokenLen {
			reasons = append(reasons, fmt.Sprintf("avg_token_len:%.1f", avg))
		}
		if ratio := float64(long) / float64(len(tokens)); ratio > qc.MaxLongTokenRatio {
			reasons = append(reasons, fmt.Sprintf("long_token_ratio:%.2f", ratio))
		}
		if ratio := float64(pure) / float64(len(tokens)); ratio < qc.MinPureTokenRatio {
			reasons = append(reasons, fmt.Sprintf("pure_token_ratio:%.2f", ratio))
		}
		if ratio := float64(other) / float64(len(tokens)); ratio > qc.MaxOtherTokenRatio {
			reasons = append(reasons, fmt.Sprintf("other_token_ratio:%.2f", ratio))
		}
	}

	lines := strings.Split(text, "\n")
	noisy, nonEmpty := 0, 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		nonEmpty++
		if qc.noisyLine(line) {
			noisy++
		}
	}
	if nonEmpty >= 5 {
		if ratio := float64(noisy) / float64(nonEmpty); ratio > qc.MaxNoisyLineRatio {
			reasons = append(reasons, fmt.Sprintf("noisy_line_ratio:%.2f", ratio))
		}
	}

	return reasons
}

type tokenShape int

const (
	tokenPure     tokenShape = iota // letters only
	tokenAlnum                      // letters and digits
	tokenAlphaSym                   // letters and symbols
	tokenOther                      // no letters at all
)

func classifyToken(t string) tokenShape {
	letters, digits, symbols := 0, 0, 0
	for _, r := range t {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		default:
			symbols++
		}
	}
	switch {
	case letters == 0:
		return tokenOther
	case digits == 0 && symbols == 0:
		return tokenPure
	case symbols == 0:
		return tokenAlnum
	default:
		return tokenAlphaSym
	}
}

// noisyLine reports lines with no letters at all, and substantial lines
// whose letter density is too low to be running text.
func (qc QualityConfig) noisyLine(line string) bool {
	letters, total := 0, 0
	for _, r := range line {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters == 0 {
		return true
	}
	if total >= qc.NoisyLineMinLen && float64(letters)/float64(total) < qc.NoisyLineAlphaRatio {
		return true
	}
	return false
}
