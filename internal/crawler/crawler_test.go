package crawler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mevra-dev/mevra/internal/models"
	"github.com/mevra-dev/mevra/internal/testutil"
)

// fakePortal serves the listing protocol: front pages that set the session
// cookie, and a DataTables endpoint fed from Pages.
type fakePortal struct {
	mu         sync.Mutex
	Pages      [][]row
	Total      int
	Bootstraps int
	Requests   []map[string]any
	// ServeHTML makes the next N listing responses non-JSON.
	ServeHTML int
}

func (p *fakePortal) handler() http.Handler {
	mux := http.NewServeMux()
	front := func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.Bootstraps++
		p.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: ".Portal.Antiforgery.x9", Value: "tok-123", Path: "/"})
		w.Write([]byte("<html></html>"))
	}
	mux.HandleFunc("/", front)
	mux.HandleFunc("/Anasayfa", front)
	mux.HandleFunc("/Anasayfa/MevzuatDatatable", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.Requests = append(p.Requests, body)

		if p.ServeHTML > 0 {
			p.ServeHTML--
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>oturum süresi doldu</html>"))
			return
		}

		start := 0
		if f, ok := body["start"].(float64); ok {
			start = int(f)
		}
		length := 20
		if f, ok := body["length"].(float64); ok {
			length = int(f)
		}
		page := start / length
		var rows []row
		if page < len(p.Pages) {
			rows = p.Pages[page]
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":            rows,
			"recordsTotal":    p.Total,
			"recordsFiltered": p.Total,
		})
	})
	return mux
}

func listingRow(no string, title string) row {
	return row{
		"MevzuatNo":         no,
		"MevzuatTur":        float64(1),
		"MevzuatTertip":     float64(5),
		"Baslik":            title,
		"ResmiGazeteTarihi": "07.12.2019",
	}
}

func newCrawlFixture(t *testing.T, portal *fakePortal, opts Options) (*testutil.FakeDB, *Crawler, *models.SourceType) {
	t.Helper()
	srv := httptest.NewServer(portal.handler())
	t.Cleanup(srv.Close)

	db := testutil.NewFakeDB()
	st := db.AddSourceType(models.SourceType{
		ID: 1, Name: "Kanunlar", ShortCode: "Kanun", Slug: "kanun", Active: true, Fetcher: "kanun",
	})
	c := New(db, srv.URL+"/", zap.NewNop().Sugar(), opts)
	return db, c, st
}

func TestCrawlRegistersNewDocuments(t *testing.T) {
	portal := &fakePortal{
		Pages: [][]row{
			{listingRow("7194", "DİJİTAL HİZMET VERGİSİ KANUNU"), listingRow("2935", "OLAĞANÜSTÜ HAL KANUNU")},
			{listingRow("6698", "KİŞİSEL VERİLERİN KORUNMASI KANUNU")},
		},
		Total: 3,
	}
	db, c, st := newCrawlFixture(t, portal, Options{PageSize: 2})

	rep, err := c.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Created)
	assert.Equal(t, 3, rep.Seen)
	assert.Equal(t, 2, rep.Pages)
	assert.Len(t, db.Docs, 3)

	exists, err := db.DocumentExists(context.Background(), 1, "7194", 5)
	require.NoError(t, err)
	assert.True(t, exists)

	// The DataTables request carries the inferred token and the type filter.
	require.NotEmpty(t, portal.Requests)
	params, ok := portal.Requests[0]["parameters"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tok-123", params["antiforgerytoken"])
	assert.Equal(t, "Kanun", params["MevzuatTur"])
}

func TestCrawlSkipsKnownAndInvalidRows(t *testing.T) {
	noDate := row{"MevzuatNo": "9999", "MevzuatTur": float64(1), "Baslik": "TARİHSİZ KANUN"}
	unresolvable := row{"Baslik": "numarasız satır"}
	portal := &fakePortal{
		Pages: [][]row{{
			listingRow("7194", "DİJİTAL HİZMET VERGİSİ KANUNU"),
			listingRow("7194", "DİJİTAL HİZMET VERGİSİ KANUNU"), // in-run duplicate
			noDate,
			unresolvable,
			listingRow("1111", "ÖNCEDEN KAYITLI KANUN"),
		}},
		Total: 5,
	}
	db, c, st := newCrawlFixture(t, portal, Options{PageSize: 20})
	db.AddDocument(models.Document{ID: "old", SourceTypeID: 1, NativeNumber: "1111", Series: 5})

	rep, err := c.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Created)
	assert.Equal(t, 2, rep.SkippedExisting, "one in-run duplicate, one already in the database")
	assert.Equal(t, 1, rep.SkippedInvalid)
	assert.Equal(t, 1, rep.SkippedNoDate)
}

func TestCrawlStopsOnRepeatedPage(t *testing.T) {
	same := []row{listingRow("7194", "DİJİTAL HİZMET VERGİSİ KANUNU")}
	portal := &fakePortal{
		// Every page returns the same rows while claiming there are more.
		Pages: [][]row{same, same, same, same, same, same},
		Total: 1000,
	}
	_, c, st := newCrawlFixture(t, portal, Options{PageSize: 1, MaxPages: 50})

	rep, err := c.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Created)
	assert.Equal(t, 3, rep.Pages, "stops after the page repeats twice")
}

func TestCrawlHonorsMaxPages(t *testing.T) {
	pages := make([][]row, 10)
	for i := range pages {
		pages[i] = []row{listingRow(string(rune('A'+i)), "BİR KANUN BAŞLIĞI")}
	}
	portal := &fakePortal{Pages: pages, Total: 1000}
	_, c, st := newCrawlFixture(t, portal, Options{PageSize: 1, MaxPages: 4})

	rep, err := c.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Pages)
}

func TestCrawlStopsAtCreatedLimit(t *testing.T) {
	portal := &fakePortal{
		Pages: [][]row{
			{listingRow("1", "BİRİNCİ KANUN"), listingRow("2", "İKİNCİ KANUN")},
			{listingRow("3", "ÜÇÜNCÜ KANUN")},
		},
		Total: 3,
	}
	db, c, st := newCrawlFixture(t, portal, Options{PageSize: 2, Limit: 2})

	rep, err := c.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Created)
	assert.Len(t, db.Docs, 2)
}

func TestCrawlRefreshesExpiredSession(t *testing.T) {
	portal := &fakePortal{
		Pages:     [][]row{{listingRow("7194", "DİJİTAL HİZMET VERGİSİ KANUNU")}},
		Total:     1,
		ServeHTML: 1, // first listing response is the HTML login page
	}
	_, c, st := newCrawlFixture(t, portal, Options{PageSize: 20})

	rep, err := c.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Created)
	assert.GreaterOrEqual(t, portal.Bootstraps, 4, "initial bootstrap plus a session refresh")
}

func TestCrawlFailsAfterRepeatedNonJSON(t *testing.T) {
	portal := &fakePortal{
		Pages:     [][]row{{listingRow("7194", "X")}},
		Total:     1,
		ServeHTML: 10,
	}
	_, c, st := newCrawlFixture(t, portal, Options{PageSize: 20})

	_, err := c.Run(context.Background(), st)
	require.Error(t, err)
}
