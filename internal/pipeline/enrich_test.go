package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mevra-dev/mevra/internal/core"
	"github.com/mevra-dev/mevra/internal/models"
	"github.com/mevra-dev/mevra/internal/testutil"
)

type stubLLM struct {
	GenerateOut string
	JSONOut     []byte

	GenerateCalls int
	JSONCalls     int
	LastUser      string
	LastSchema    *core.JSONSchema
}

func (l *stubLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	l.GenerateCalls++
	l.LastUser = userPrompt
	return l.GenerateOut, nil
}

func (l *stubLLM) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema *core.JSONSchema) ([]byte, error) {
	l.JSONCalls++
	l.LastUser = userPrompt
	l.LastSchema = schema
	return l.JSONOut, nil
}

func newEnrichFixture(llm *stubLLM) (*testutil.FakeDB, *Enricher, *models.Document) {
	db := testutil.NewFakeDB()
	doc := db.AddDocument(models.Document{
		ID: "doc-1", Title: "Dijital Hizmet Vergisi Kanunu", Text: healthyText(),
	})
	return db, NewEnricher(db, llm, zap.NewNop().Sugar()), doc
}

func TestSummarizeIdempotent(t *testing.T) {
	llm := &stubLLM{GenerateOut: "Yeni özet."}
	db, e, doc := newEnrichFixture(llm)
	doc.Summary = "Mevcut özet."

	require.NoError(t, e.Summarize(context.Background(), doc, false))
	assert.Zero(t, llm.GenerateCalls, "populated summary is kept")
	assert.Equal(t, "Mevcut özet.", db.Doc("doc-1").Summary)

	require.NoError(t, e.Summarize(context.Background(), doc, true))
	assert.Equal(t, 1, llm.GenerateCalls)
	assert.Equal(t, "Yeni özet.", db.Doc("doc-1").Summary)
}

func TestSummarizeRequiresText(t *testing.T) {
	llm := &stubLLM{GenerateOut: "özet"}
	db := testutil.NewFakeDB()
	doc := db.AddDocument(models.Document{ID: "doc-2", Title: "Başlık"})
	e := NewEnricher(db, llm, zap.NewNop().Sugar())

	err := e.Summarize(context.Background(), doc, false)
	var ferr *core.FormatError
	assert.ErrorAs(t, err, &ferr)
}

func TestKeywordsNormalization(t *testing.T) {
	llm := &stubLLM{JSONOut: []byte(`{"keywords":["Dijital Hizmet","dijital hizmet"," hakkında ","Vergi Beyannamesi",""]}`)}
	db, e, doc := newEnrichFixture(llm)
	doc.Summary = "Dijital hizmet vergisinin kapsamını düzenler."

	require.NoError(t, e.Keywords(context.Background(), doc, false))
	assert.Equal(t, []string{"Dijital Hizmet", "Vergi Beyannamesi"}, db.Doc("doc-1").Keywords,
		"duplicates, blanks and structural legal terms are dropped")
}

func TestKeywordsDelimiterFallback(t *testing.T) {
	llm := &stubLLM{JSONOut: []byte("dijital hizmet, vergi beyannamesi; muafiyet")}
	db, e, doc := newEnrichFixture(llm)
	doc.Summary = "Özet."

	require.NoError(t, e.Keywords(context.Background(), doc, false))
	assert.Equal(t, []string{"dijital hizmet", "vergi beyannamesi", "muafiyet"}, db.Doc("doc-1").Keywords)
}

func TestKeywordsBounded(t *testing.T) {
	many := make([]string, 30)
	for i := range many {
		many[i] = strings.Repeat("k", i+1)
	}
	raw, err := json.Marshal(map[string][]string{"keywords": many})
	require.NoError(t, err)
	llm := &stubLLM{JSONOut: raw}
	db, e, doc := newEnrichFixture(llm)
	doc.Summary = "Özet."

	require.NoError(t, e.Keywords(context.Background(), doc, false))
	assert.Len(t, db.Doc("doc-1").Keywords, maxKeywords)
}

func TestKeywordsFromSummaryWithoutText(t *testing.T) {
	llm := &stubLLM{JSONOut: []byte(`{"keywords":["dijital hizmet"]}`)}
	db := testutil.NewFakeDB()
	doc := db.AddDocument(models.Document{
		ID: "doc-3", Title: "Başlık", Summary: "Dijital hizmet vergisini düzenler.",
	})
	e := NewEnricher(db, llm, zap.NewNop().Sugar())

	require.NoError(t, e.Keywords(context.Background(), doc, false),
		"the summary is the extraction source, not the body text")
	assert.Equal(t, []string{"dijital hizmet"}, db.Doc("doc-3").Keywords)
}

func TestKeywordsRequireSummary(t *testing.T) {
	llm := &stubLLM{JSONOut: []byte(`{"keywords":["x"]}`)}
	_, e, doc := newEnrichFixture(llm)

	err := e.Keywords(context.Background(), doc, false)
	var ferr *core.FormatError
	assert.ErrorAs(t, err, &ferr, "text alone is not enough")
	assert.Zero(t, llm.JSONCalls)
}

func TestKeywordsTranslatedVariant(t *testing.T) {
	llm := &stubLLM{JSONOut: []byte(`{"keywords":["digital service"]}`)}
	db, e, doc := newEnrichFixture(llm)
	doc.Summary = "Özet."
	doc.TranslatedSummary = "Regulates the digital service tax."

	require.NoError(t, e.Keywords(context.Background(), doc, false))
	assert.Equal(t, 2, llm.JSONCalls, "one extraction per language variant")
	assert.Equal(t, []string{"digital service"}, db.Doc("doc-1").TranslatedKeywords)
}

func TestKeywordsIdempotent(t *testing.T) {
	llm := &stubLLM{JSONOut: []byte(`{"keywords":["yeni"]}`)}
	db, e, doc := newEnrichFixture(llm)
	doc.Summary = "Özet."
	doc.Keywords = []string{"mevcut"}

	require.NoError(t, e.Keywords(context.Background(), doc, false))
	assert.Zero(t, llm.JSONCalls, "populated keyword list is kept")
	assert.Equal(t, []string{"mevcut"}, db.Doc("doc-1").Keywords)
}

func TestTranslateOnlyMissingFields(t *testing.T) {
	llm := &stubLLM{JSONOut: []byte(`{"summary":"English summary.","keywords":["digital service","tax"]}`)}
	db, e, doc := newEnrichFixture(llm)
	doc.TranslatedTitle = "Digital Service Tax Law"
	doc.Summary = "Türkçe özet."
	doc.Keywords = []string{"dijital hizmet"}

	require.NoError(t, e.Translate(context.Background(), doc, false, false))

	require.NotNil(t, llm.LastSchema)
	assert.NotContains(t, llm.LastSchema.Properties, "title", "already translated fields are not requested")
	assert.Contains(t, llm.LastSchema.Properties, "summary")
	assert.Contains(t, llm.LastSchema.Properties, "keywords")

	stored := db.Doc("doc-1")
	assert.Equal(t, "Digital Service Tax Law", stored.TranslatedTitle)
	assert.Equal(t, "English summary.", stored.TranslatedSummary)
	assert.Equal(t, []string{"digital service", "tax"}, stored.TranslatedKeywords)
}

func TestTranslateNothingMissing(t *testing.T) {
	llm := &stubLLM{JSONOut: []byte(`{}`)}
	_, e, doc := newEnrichFixture(llm)
	doc.TranslatedTitle = "Done"
	assert.NoError(t, e.Translate(context.Background(), doc, false, false))
	assert.Zero(t, llm.JSONCalls, "nothing to translate, no model call")
}

func TestTranslateKeywordsOnly(t *testing.T) {
	llm := &stubLLM{JSONOut: []byte(`{"keywords":["digital service"]}`)}
	db, e, doc := newEnrichFixture(llm)
	doc.Summary = "Türkçe özet."
	doc.Keywords = []string{"dijital hizmet"}

	require.NoError(t, e.Translate(context.Background(), doc, false, true))

	require.NotNil(t, llm.LastSchema)
	assert.Contains(t, llm.LastSchema.Properties, "keywords")
	assert.NotContains(t, llm.LastSchema.Properties, "title")
	assert.NotContains(t, llm.LastSchema.Properties, "summary")

	stored := db.Doc("doc-1")
	assert.Equal(t, []string{"digital service"}, stored.TranslatedKeywords)
	assert.Empty(t, stored.TranslatedTitle)
	assert.Empty(t, stored.TranslatedSummary)
}

func TestTranslateRequiresUpstream(t *testing.T) {
	llm := &stubLLM{JSONOut: []byte(`{}`)}
	db := testutil.NewFakeDB()
	doc := db.AddDocument(models.Document{ID: "doc-4"})
	e := NewEnricher(db, llm, zap.NewNop().Sugar())

	var ferr *core.FormatError
	assert.ErrorAs(t, e.Translate(context.Background(), doc, false, false), &ferr)

	withTitle := db.AddDocument(models.Document{ID: "doc-5", Title: "Başlık"})
	assert.ErrorAs(t, e.Translate(context.Background(), withTitle, false, true), &ferr,
		"keywords-only mode needs keywords")
	assert.Zero(t, llm.JSONCalls)
}
