package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mevra-dev/mevra/internal/core"
)

type DocumentHandler struct {
	db core.DbClient
}

func NewDocumentHandler(db core.DbClient) *DocumentHandler {
	return &DocumentHandler{db: db}
}

// ListTypes handles GET /api/types.
func (h *DocumentHandler) ListTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.db.ListSourceTypes(r.Context(), false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"types": types})
}

// ListDocuments handles GET /api/documents?type=slug&from=...&to=...&limit=N.
func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.DocumentFilter{
		DateFrom: q.Get("from"),
		DateTo:   q.Get("to"),
		Limit:    intParam(q.Get("limit"), 50),
	}
	if slug := q.Get("type"); slug != "" {
		st, err := h.db.GetSourceTypeBySlug(r.Context(), slug)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.SourceTypeID = st.ID
	}
	docs, err := h.db.ListDocuments(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// GetDocument handles GET /api/documents/{id}.
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.db.GetDocumentByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
