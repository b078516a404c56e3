// Package fetcher maps each source type to its per-source logic: how to
// build a document's download URL and which extra metadata it carries. The
// rest of the pipeline never branches on source type.
package fetcher

import (
	"fmt"
	"sort"

	"github.com/mevra-dev/mevra/internal/models"
)

// Metadata keys shared by the portal's sources.
const (
	MetaTur         = "mevzuat_tur"
	MetaTertib      = "mevzuat_tertib"
	MetaNo          = "mevzuat_no"
	MetaGazetteDate = "resmi_gazete_tarihi"
	MetaGazetteNo   = "resmi_gazete_sayisi"
	MetaKabulDate   = "kabul_tarih"
	MetaNitelik     = "nitelik"
	MetaMukerrer    = "mukerrer"
	MetaHasOldLaw   = "has_old_law"
	MetaTuzukTur    = "tuzuk_mevzuat_tur"
)

// Strategy is the per-source part of acquisition. Implementations are
// stateless; shared download/store logic lives in Fetcher.
type Strategy interface {
	Name() string

	// BuildDocumentURL derives the download URL from the record's
	// structured identifiers.
	BuildDocumentURL(doc *models.Document) (string, error)

	// ExtractMetadata returns source-specific enrichment for the record's
	// metadata bag; may return nil when the source has none.
	ExtractMetadata(doc *models.Document) map[string]string
}

// Registry resolves a source type's fetcher name to its Strategy.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry registers every known strategy against the portal base URL.
func NewRegistry(baseURL string) *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	for _, s := range []Strategy{
		&mevzuatStrategy{name: "kanun", tur: 1, baseURL: baseURL},
		&mevzuatStrategy{name: "khk", tur: 4, baseURL: baseURL},
		&mevzuatStrategy{name: "cb-kararname", tur: 19, baseURL: baseURL},
		&mevzuatStrategy{name: "cb-karar", tur: 20, baseURL: baseURL},
		&mevzuatStrategy{name: "cb-yonetmelik", tur: 21, baseURL: baseURL},
		&genelgeStrategy{mevzuatStrategy{name: "genelge", tur: 22, baseURL: baseURL}},
		&yonetmelikStrategy{mevzuatStrategy{name: "yonetmelik", tur: 7, baseURL: baseURL}},
	} {
		r.strategies[s.Name()] = s
	}
	return r
}

// Get returns the strategy registered under name.
func (r *Registry) Get(name string) (Strategy, error) {
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("fetcher not found: %s", name)
	}
	return s, nil
}

// Names lists the registered strategy names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
