package services

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mevra-dev/mevra/internal/core"
	"github.com/mevra-dev/mevra/internal/models"
	"github.com/mevra-dev/mevra/internal/pipeline"
)

// SearchParams is one semantic search request across source types.
type SearchParams struct {
	Query     string
	TypeSlugs []string // empty = all active source types
	DateFrom  string   // inclusive, "2006-01-02"
	DateTo    string   // inclusive
	Sort      string   // "relevance" (default) or "date_desc"
	Offset    int
	Limit     int
	Threshold float64
}

// SearchHit is one result snippet with its owning source type.
type SearchHit struct {
	Type       string         `json:"type"`
	Text       string         `json:"text"`
	Filename   string         `json:"filename"`
	Score      float64        `json:"score"`
	Attributes map[string]any `json:"attributes"`
}

// SearchResult is a search response page.
type SearchResult struct {
	Hits    []SearchHit `json:"results"`
	Total   int         `json:"total"`
	HasMore bool        `json:"has_more"`
}

const (
	defaultSearchLimit = 10
	searchFanout       = 4 // concurrent index queries per search
)

// Search queries the semantic indexes of the source types in scope, merges
// and orders the hits, and returns one page.
type Search struct {
	db    core.DbClient
	index core.SemanticIndex
	log   *zap.SugaredLogger
}

func NewSearch(db core.DbClient, index core.SemanticIndex, log *zap.SugaredLogger) *Search {
	return &Search{db: db, index: index, log: log}
}

func (s *Search) Run(ctx context.Context, p SearchParams) (*SearchResult, error) {
	if p.Query == "" {
		return nil, core.Formatf("empty query")
	}
	if p.Limit <= 0 {
		p.Limit = defaultSearchLimit
	}
	types, err := s.scopedTypes(ctx, p.TypeSlugs)
	if err != nil {
		return nil, err
	}

	fetch := p.Offset + p.Limit + 1
	perType := make([][]SearchHit, len(types))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchFanout)
	for i := range types {
		st := &types[i]
		if st.ExternalIndexID == "" {
			continue
		}
		slot := i
		g.Go(func() error {
			req := &core.IndexSearchRequest{
				Query:          p.Query,
				MaxResults:     fetch,
				Filter:         dateFilter(p.DateFrom, p.DateTo),
				ScoreThreshold: p.Threshold,
				RewriteQuery:   true,
			}
			results, err := s.index.Search(gctx, st.ExternalIndexID, req)
			if err != nil {
				// One unreachable index degrades the result set, it does
				// not fail the whole search.
				s.log.Errorw("index search failed", "source", st.Slug, "err", err)
				return nil
			}
			for _, r := range results {
				perType[slot] = append(perType[slot], SearchHit{
					Type: st.Slug, Text: r.Text, Filename: r.Filename,
					Score: r.Score, Attributes: r.Attributes,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	var hits []SearchHit
	for _, batch := range perType {
		hits = append(hits, batch...)
	}

	sortHits(hits, p.Sort)
	total := len(hits)
	if p.Offset >= total {
		return &SearchResult{Hits: []SearchHit{}, Total: total}, nil
	}
	hits = hits[p.Offset:]
	hasMore := len(hits) > p.Limit
	if hasMore {
		hits = hits[:p.Limit]
	}
	return &SearchResult{Hits: hits, Total: total, HasMore: hasMore}, nil
}

func (s *Search) scopedTypes(ctx context.Context, slugs []string) ([]models.SourceType, error) {
	if len(slugs) == 0 {
		return s.db.ListSourceTypes(ctx, true)
	}
	types := make([]models.SourceType, 0, len(slugs))
	for _, slug := range slugs {
		st, err := s.db.GetSourceTypeBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		types = append(types, *st)
	}
	return types, nil
}

func dateFilter(from, to string) *core.IndexFilter {
	var leaves []*core.IndexFilter
	if from != "" {
		leaves = append(leaves, &core.IndexFilter{Type: "gte", Key: "date", Value: from})
	}
	if to != "" {
		leaves = append(leaves, &core.IndexFilter{Type: "lte", Key: "date", Value: to})
	}
	switch len(leaves) {
	case 0:
		return nil
	case 1:
		return leaves[0]
	default:
		return &core.IndexFilter{Type: "and", Filters: leaves}
	}
}

func sortHits(hits []SearchHit, mode string) {
	if mode == "date_desc" {
		sort.SliceStable(hits, func(i, j int) bool {
			return attrDate(hits[i]) > attrDate(hits[j])
		})
		return
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}

func attrDate(h SearchHit) string {
	if d, ok := h.Attributes["date"].(string); ok {
		return d
	}
	return ""
}

// Similar finds documents close to a given one by vector distance, using the
// stored embedding.
type Similar struct {
	db     core.DbClient
	qcache *pipeline.QueryCache
}

func NewSimilar(db core.DbClient, qcache *pipeline.QueryCache) *Similar {
	return &Similar{db: db, qcache: qcache}
}

// ByDocument returns up to limit documents nearest to the given one,
// excluding the document itself. The document must already be embedded.
func (s *Similar) ByDocument(ctx context.Context, id string, limit int) ([]models.Document, error) {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.HasEmbedding() {
		return nil, core.Formatf("document %s has no embedding", id)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	neighbors, err := s.db.SearchDocumentsByEmbedding(ctx, doc.Embedding, limit+1)
	if err != nil {
		return nil, err
	}
	out := make([]models.Document, 0, limit)
	for _, n := range neighbors {
		if n.ID == doc.ID {
			continue
		}
		out = append(out, n)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ByQuery returns documents nearest to a free-text query, embedding the
// query through the cache.
func (s *Similar) ByQuery(ctx context.Context, query string, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	vec, err := s.qcache.Embedding(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.db.SearchDocumentsByEmbedding(ctx, vec, limit)
}
