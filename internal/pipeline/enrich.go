package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/mevra-dev/mevra/internal/core"
	"github.com/mevra-dev/mevra/internal/models"
)

const (
	// enrichWindow bounds how much document text is handed to the model.
	enrichWindow = 24000
	maxKeywords  = 15

	summarySystem = "Sen Türk mevzuatı konusunda uzman bir hukuk asistanısın. " +
		"Sana verilen mevzuat metnini 3-5 cümleyle, sade bir dille özetle. " +
		"Özet metnin amacını, kapsamını ve getirdiği temel düzenlemeleri içermeli. " +
		"Sadece özeti yaz, başlık veya açıklama ekleme."

	keywordsSystem = "Sen Türk mevzuatı konusunda uzman bir hukuk asistanısın. " +
		"Sana verilen mevzuat özeti için arama amaçlı anahtar kelimeler çıkar. " +
		"Her anahtar kelime 1-4 sözcükten oluşmalı ve metnin konusunu yansıtmalı. " +
		"Genel hukuk terimlerini (kanun, madde, yönetmelik gibi) kullanma."

	keywordsSystemEn = "You are a legal assistant specializing in Turkish legislation. " +
		"Extract search keywords from the given legislation summary. " +
		"Each keyword should be 1-4 words and reflect the subject matter. " +
		"Avoid generic legal terms such as law, article or regulation."

	translateSystem = "You are a legal translator specializing in Turkish legislation. " +
		"Translate the given fields into clear, formal English. Preserve legal " +
		"terminology and proper names. Return only the requested JSON."
)

// genericKeywordTerms are structural legal terms that carry no search value.
var genericKeywordTerms = map[string]bool{
	"kanun": true, "kanunu": true, "madde": true, "yönetmelik": true,
	"yönetmeliği": true, "genelge": true, "kararname": true, "karar": true,
	"kararı": true, "sayılı": true, "hakkında": true, "ilişkin": true,
	"dair": true, "mevzuat": true, "hüküm": true, "tebliğ": true,
}

// Enricher runs the LLM-backed stages: summary, keywords and translation.
// Every stage is idempotent: populated fields are left alone unless the
// caller asks for an overwrite.
type Enricher struct {
	db  core.DbClient
	llm core.LLMProvider
	log *zap.SugaredLogger
}

func NewEnricher(db core.DbClient, llm core.LLMProvider, log *zap.SugaredLogger) *Enricher {
	return &Enricher{db: db, llm: llm, log: log}
}

// Summarize generates and persists the native-language summary.
func (e *Enricher) Summarize(ctx context.Context, doc *models.Document, overwrite bool) error {
	if doc.Summary != "" && !overwrite {
		return nil
	}
	if !doc.HasText() {
		return core.Formatf("document %s has no text to summarize", doc.ID)
	}
	out, err := e.llm.Generate(ctx, summarySystem, enrichPayload(doc))
	if err != nil {
		return err
	}
	summary := strings.TrimSpace(out)
	if summary == "" {
		return &core.ExternalServiceError{Service: "llm", Err: core.Formatf("empty summary for document %s", doc.ID)}
	}
	if err := e.db.UpdateDocumentSummary(ctx, doc.ID, summary); err != nil {
		return err
	}
	doc.Summary = summary
	return nil
}

// Keywords extracts and persists the keyword lists, one call per language
// variant whose summary is available. The summaries are the extraction
// source, so this stage runs after Summarize.
func (e *Enricher) Keywords(ctx context.Context, doc *models.Document, overwrite bool) error {
	if doc.Summary == "" && doc.TranslatedSummary == "" {
		return core.Formatf("document %s has no summary for keyword extraction", doc.ID)
	}

	native, translated := doc.Keywords, doc.TranslatedKeywords
	changed := false

	if doc.Summary != "" && (len(native) == 0 || overwrite) {
		raw, err := e.extractKeywords(ctx, keywordsSystem, keywordPayload(doc.Title, doc.Summary))
		if err != nil {
			return err
		}
		kws := normalizeKeywords(raw)
		if len(kws) == 0 {
			return &core.ExternalServiceError{Service: "llm", Err: core.Formatf("no usable keywords for document %s", doc.ID)}
		}
		native = kws
		changed = true
	}
	if doc.TranslatedSummary != "" && (len(translated) == 0 || overwrite) {
		raw, err := e.extractKeywords(ctx, keywordsSystemEn, keywordPayload(doc.TranslatedTitle, doc.TranslatedSummary))
		if err != nil {
			return err
		}
		if kws := normalizeTranslated(raw); len(kws) > 0 {
			translated = kws
			changed = true
		}
	}
	if !changed {
		return nil
	}

	if err := e.db.UpdateDocumentKeywords(ctx, doc.ID, native, translated); err != nil {
		return err
	}
	doc.Keywords = native
	doc.TranslatedKeywords = translated
	return nil
}

func (e *Enricher) extractKeywords(ctx context.Context, system, payload string) ([]string, error) {
	schema := &core.JSONSchema{
		Type: "object",
		Properties: map[string]*core.JSONSchema{
			"keywords": {Type: "array", Items: &core.JSONSchema{Type: "string"}},
		},
		Required: []string{"keywords"},
	}
	raw, err := e.llm.GenerateJSON(ctx, system, payload, schema)
	if err != nil {
		return nil, err
	}
	return parseKeywords(raw), nil
}

// keywordPayload prefixes the title for context when present.
func keywordPayload(title, summary string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t + "\n\n" + summary
	}
	return summary
}

// Translate fills the English title, summary and keywords in one structured
// call, requesting only the fields still missing unless overwrite is set.
// With keywordsOnly set, title and summary are left untouched.
func (e *Enricher) Translate(ctx context.Context, doc *models.Document, overwrite, keywordsOnly bool) error {
	if keywordsOnly {
		if len(doc.Keywords) == 0 {
			return core.Formatf("document %s has no keywords to translate", doc.ID)
		}
	} else if doc.Title == "" && doc.Summary == "" && len(doc.Keywords) == 0 {
		return core.Formatf("document %s has no fields to translate", doc.ID)
	}

	needTitle := !keywordsOnly && (overwrite || doc.TranslatedTitle == "") && doc.Title != ""
	needSummary := !keywordsOnly && (overwrite || doc.TranslatedSummary == "") && doc.Summary != ""
	needKeywords := (overwrite || len(doc.TranslatedKeywords) == 0) && len(doc.Keywords) > 0
	if !needTitle && !needSummary && !needKeywords {
		return nil
	}

	props := map[string]*core.JSONSchema{}
	payload := map[string]any{}
	if needTitle {
		props["title"] = &core.JSONSchema{Type: "string"}
		payload["title"] = doc.Title
	}
	if needSummary {
		props["summary"] = &core.JSONSchema{Type: "string"}
		payload["summary"] = doc.Summary
	}
	if needKeywords {
		props["keywords"] = &core.JSONSchema{Type: "array", Items: &core.JSONSchema{Type: "string"}}
		payload["keywords"] = doc.Keywords
	}
	required := make([]string, 0, len(props))
	for k := range props {
		required = append(required, k)
	}
	schema := &core.JSONSchema{Type: "object", Properties: props, Required: required}

	user, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	raw, err := e.llm.GenerateJSON(ctx, translateSystem, string(user), schema)
	if err != nil {
		return err
	}
	var out struct {
		Title    string   `json:"title"`
		Summary  string   `json:"summary"`
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return &core.ExternalServiceError{Service: "llm", Err: err}
	}

	title, summary, keywords := doc.TranslatedTitle, doc.TranslatedSummary, doc.TranslatedKeywords
	if needTitle && strings.TrimSpace(out.Title) != "" {
		title = strings.TrimSpace(out.Title)
	}
	if needSummary && strings.TrimSpace(out.Summary) != "" {
		summary = strings.TrimSpace(out.Summary)
	}
	if needKeywords && len(out.Keywords) > 0 {
		keywords = normalizeTranslated(out.Keywords)
	}
	if err := e.db.UpdateDocumentTranslations(ctx, doc.ID, title, summary, keywords); err != nil {
		return err
	}
	doc.TranslatedTitle = title
	doc.TranslatedSummary = summary
	doc.TranslatedKeywords = keywords
	return nil
}

// enrichPayload bounds the text handed to the model and prefixes the title
// for context.
func enrichPayload(doc *models.Document) string {
	return truncateRunes(doc.Title+"\n\n"+doc.Text, enrichWindow)
}

// parseKeywords decodes the model's keyword response, falling back to
// delimiter splitting when the JSON shape is off.
func parseKeywords(raw []byte) []string {
	var obj struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && len(obj.Keywords) > 0 {
		return obj.Keywords
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 {
		return arr
	}
	return strings.FieldsFunc(string(raw), func(r rune) bool {
		return r == '\n' || r == ',' || r == ';'
	})
}

// normalizeKeywords cleans, deduplicates and bounds a keyword list, and
// strips structural legal terms that match nothing useful.
func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool)
	for _, kw := range in {
		kw = strings.Trim(strings.TrimSpace(kw), `"'-•*[]`)
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lower := strings.ToLower(kw)
		if genericKeywordTerms[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, kw)
		if len(out) >= maxKeywords {
			break
		}
	}
	return out
}

// normalizeTranslated cleans a translated keyword list without the
// native-language generic-term filter.
func normalizeTranslated(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool)
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lower := strings.ToLower(kw)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, kw)
		if len(out) >= maxKeywords {
			break
		}
	}
	return out
}
