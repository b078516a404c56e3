package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mevra-dev/mevra/internal/services"
)

type SearchHandler struct {
	search  *services.Search
	similar *services.Similar
}

func NewSearchHandler(search *services.Search, similar *services.Similar) *SearchHandler {
	return &SearchHandler{search: search, similar: similar}
}

// Search handles GET /api/search?q=...&type=a,b&from=...&to=...&sort=...&offset=...&limit=...
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing query parameter q"})
		return
	}
	params := services.SearchParams{
		Query:    query,
		DateFrom: q.Get("from"),
		DateTo:   q.Get("to"),
		Sort:     q.Get("sort"),
		Offset:   intParam(q.Get("offset"), 0),
		Limit:    intParam(q.Get("limit"), 0),
	}
	if t := strings.TrimSpace(q.Get("type")); t != "" {
		params.TypeSlugs = strings.Split(t, ",")
	}
	if s := q.Get("threshold"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			params.Threshold = f
		}
	}

	result, err := h.search.Run(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Similar handles GET /api/documents/{id}/similar?limit=...
func (h *SearchHandler) Similar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	docs, err := h.similar.ByDocument(r.Context(), id, intParam(r.URL.Query().Get("limit"), 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": docs})
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
