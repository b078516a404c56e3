package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mevra-dev/mevra/internal/core"
	"github.com/mevra-dev/mevra/internal/models"
)

// Options controls a crawl run.
type Options struct {
	PageSize    int           // rows per listing page
	MaxPages    int           // hard cap on pages walked
	Limit       int           // stop after this many created documents (0 = unlimited)
	Pause       time.Duration // delay between page requests
	Antiforgery string        // explicit token, skips cookie inference
}

// Report summarizes a crawl run.
type Report struct {
	Pages           int
	Seen            int
	Created         int
	SkippedExisting int
	SkippedInvalid  int
	SkippedNoDate   int
}

const (
	defaultPageSize = 20
	defaultMaxPages = 200
	maxRebootstraps = 2
	listingPath     = "Anasayfa/MevzuatDatatable"
)

// Crawler walks the portal's paginated listing for one source type and
// registers documents it has not seen before.
type Crawler struct {
	db      core.DbClient
	baseURL string
	httpc   *resty.Client
	log     *zap.SugaredLogger
	opts    Options
}

func New(db core.DbClient, baseURL string, log *zap.SugaredLogger, opts Options) *Crawler {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	httpc := resty.New().
		SetTimeout(45*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(2*time.Second).
		SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36").
		SetHeader("Accept-Language", "tr-TR,tr;q=0.9,en;q=0.8")
	return &Crawler{db: db, baseURL: baseURL, httpc: httpc, log: log, opts: opts}
}

// Run crawls the listing for st until the listing is exhausted, the page cap
// is hit, or the created-document limit is reached.
func (c *Crawler) Run(ctx context.Context, st *models.SourceType) (*Report, error) {
	rep := &Report{}
	if err := c.bootstrap(ctx); err != nil {
		return rep, err
	}
	token := c.opts.Antiforgery
	if token == "" {
		token = c.antiforgeryToken()
	}
	if token == "" {
		c.log.Warnw("no anti-forgery token found in session cookies", "source", st.Slug)
	}

	seen := make(map[string]bool)
	var lastFingerprint string
	repeats := 0
	total := -1

	for page := 0; page < c.opts.MaxPages; page++ {
		start := page * c.opts.PageSize
		if total >= 0 && start >= total {
			break
		}
		rows, recTotal, err := c.fetchPage(ctx, st, token, start, page)
		if err != nil {
			return rep, err
		}
		rep.Pages++
		if recTotal > 0 {
			total = recTotal
		}
		if len(rows) == 0 {
			break
		}

		fp := fingerprint(rows)
		if fp != "" && fp == lastFingerprint {
			repeats++
			if repeats >= 2 {
				c.log.Warnw("listing repeated the same page, stopping", "source", st.Slug, "page", page)
				break
			}
		} else {
			repeats = 0
		}
		lastFingerprint = fp

		done, err := c.handleRows(ctx, st, rows, seen, rep)
		if err != nil {
			return rep, err
		}
		if done {
			break
		}
		if c.opts.Pause > 0 {
			select {
			case <-ctx.Done():
				return rep, ctx.Err()
			case <-time.After(c.opts.Pause):
			}
		}
	}
	c.log.Infow("crawl finished",
		"source", st.Slug, "pages", rep.Pages, "seen", rep.Seen,
		"created", rep.Created, "existing", rep.SkippedExisting,
		"invalid", rep.SkippedInvalid, "no_date", rep.SkippedNoDate)
	return rep, nil
}

func (c *Crawler) handleRows(ctx context.Context, st *models.SourceType, rows []row, seen map[string]bool, rep *Report) (bool, error) {
	for _, r := range rows {
		rep.Seen++
		m := resolveRow(r)
		if m.No == "" {
			rep.SkippedInvalid++
			continue
		}
		k := m.key()
		if seen[k] {
			rep.SkippedExisting++
			continue
		}
		seen[k] = true

		if m.GazetteDate == nil {
			rep.SkippedNoDate++
			c.log.Debugw("row has no resolvable date, skipped", "source", st.Slug, "no", m.No)
			continue
		}
		exists, err := c.db.DocumentExists(ctx, st.ID, m.No, m.Tertib)
		if err != nil {
			return false, err
		}
		if exists {
			rep.SkippedExisting++
			continue
		}

		doc := &models.Document{
			ID:           uuid.NewString(),
			SourceTypeID: st.ID,
			Title:        c.resolveTitle(ctx, r, m),
			Date:         m.GazetteDate,
			NativeNumber: m.No,
			Series:       m.Tertib,
			Metadata:     m.Bag,
		}
		if err := c.db.CreateDocument(ctx, doc); err != nil {
			if strings.Contains(err.Error(), "duplicate") {
				rep.SkippedExisting++
				continue
			}
			return false, err
		}
		rep.Created++
		c.log.Infow("document registered", "source", st.Slug, "no", m.No, "title", doc.Title)
		if c.opts.Limit > 0 && rep.Created >= c.opts.Limit {
			return true, nil
		}
	}
	return false, nil
}

// fetchPage posts one DataTables request. A non-JSON reply means the session
// expired; the session is re-bootstrapped a bounded number of times.
func (c *Crawler) fetchPage(ctx context.Context, st *models.SourceType, token string, start, page int) ([]row, int, error) {
	body := listingPayload(st.ShortCode, token, start, c.opts.PageSize, page+1)
	endpoint := c.baseURL + listingPath

	for attempt := 0; ; attempt++ {
		resp, err := c.httpc.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json; charset=UTF-8").
			SetHeader("X-Requested-With", "XMLHttpRequest").
			SetHeader("Referer", c.baseURL).
			SetBody(body).
			Post(endpoint)
		if err != nil {
			return nil, 0, &core.TransportError{URL: endpoint, Err: err}
		}
		if resp.StatusCode() >= 300 {
			return nil, 0, &core.TransportError{URL: endpoint, Status: resp.StatusCode()}
		}

		var payload struct {
			Data            []row `json:"data"`
			AaData          []row `json:"aaData"`
			RecordsFiltered int   `json:"recordsFiltered"`
			RecordsTotal    int   `json:"recordsTotal"`
		}
		raw := resp.Body()
		ct := resp.Header().Get("Content-Type")
		if !strings.Contains(ct, "json") || json.Unmarshal(raw, &payload) != nil {
			if attempt >= maxRebootstraps {
				return nil, 0, &core.TransportError{URL: endpoint, Status: resp.StatusCode(),
					Err: fmt.Errorf("listing returned non-JSON after %d session resets", attempt)}
			}
			c.log.Warnw("listing returned non-JSON, refreshing session", "source", st.Slug, "attempt", attempt+1)
			if err := c.bootstrap(ctx); err != nil {
				return nil, 0, err
			}
			if c.opts.Antiforgery == "" {
				if t := c.antiforgeryToken(); t != "" {
					token = t
					body = listingPayload(st.ShortCode, token, start, c.opts.PageSize, page+1)
				}
			}
			continue
		}

		rows := payload.Data
		if len(rows) == 0 {
			rows = payload.AaData
		}
		total := payload.RecordsFiltered
		if total == 0 {
			total = payload.RecordsTotal
		}
		return rows, total, nil
	}
}

// bootstrap primes the session cookies by visiting the portal front page.
func (c *Crawler) bootstrap(ctx context.Context) error {
	for _, path := range []string{"", "Anasayfa"} {
		resp, err := c.httpc.R().SetContext(ctx).Get(c.baseURL + path)
		if err != nil {
			return &core.TransportError{URL: c.baseURL + path, Err: err}
		}
		if resp.StatusCode() >= 400 {
			return &core.TransportError{URL: c.baseURL + path, Status: resp.StatusCode()}
		}
	}
	return nil
}

// antiforgeryToken pulls the CSRF token out of the session cookie jar.
func (c *Crawler) antiforgeryToken() string {
	jar := c.httpc.GetClient().Jar
	if jar == nil {
		return ""
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	for _, ck := range jar.Cookies(u) {
		name := strings.ToLower(ck.Name)
		if strings.Contains(name, "antiforgery") || strings.Contains(name, "requestverification") {
			return ck.Value
		}
	}
	return ""
}

// listingPayload builds the DataTables request body the portal expects.
func listingPayload(shortCode, token string, start, length, draw int) map[string]any {
	return map[string]any{
		"draw":   draw,
		"start":  start,
		"length": length,
		"search": map[string]any{"value": "", "regex": false},
		"columns": []map[string]any{
			{"data": nil, "name": "", "searchable": true, "orderable": false,
				"search": map[string]any{"value": "", "regex": false}},
		},
		"parameters": map[string]any{
			"AranacakIfade":    "",
			"AranacakYer":      "2",
			"MevzuatTur":       shortCode,
			"antiforgerytoken": token,
		},
	}
}

// fingerprint hashes a page's row-key set so a listing stuck on the same
// page can be detected.
func fingerprint(rows []row) string {
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		m := resolveRow(r)
		if m.No != "" {
			keys = append(keys, m.key())
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}
