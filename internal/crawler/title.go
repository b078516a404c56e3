package crawler

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var titleKeys = []string{
	"Baslik", "MevzuatBaslik", "MevzuatAdi", "Adi", "Name",
	"KisaBaslik", "BaslikText", "DetayBaslik", "UzunBaslik", "Basligi",
}

var titleMarkers = []string{"KANUN", "KARARNAME", "KHK", "CUMHURBAŞKANLIĞI", "ANAYASA"}

// resolveTitle resolves a human-readable title for a listing row, in order:
// known field names, a marker-scored scan of the remaining string values, a
// detail-page fetch, and finally the native number.
func (c *Crawler) resolveTitle(ctx context.Context, r row, m *rowMeta) string {
	for _, k := range titleKeys {
		if s, ok := r[k].(string); ok {
			if t := stripTags(s); t != "" {
				return t
			}
		}
	}
	if t := bestTitleCandidate(r); t != "" {
		return t
	}
	if t := c.detailTitle(ctx, m); t != "" {
		return t
	}
	if m.No != "" {
		return "Mevzuat " + m.No
	}
	return "Untitled"
}

// bestTitleCandidate scores every long string value by legislation-marker
// hits and length, and returns the winner when any marker matched.
func bestTitleCandidate(r row) string {
	best, bestScore := "", 0
	for _, v := range r {
		s, ok := v.(string)
		if !ok {
			continue
		}
		t := stripTags(s)
		if len(t) < 30 {
			continue
		}
		score := 0
		upper := strings.ToUpper(t)
		for _, marker := range titleMarkers {
			if strings.Contains(upper, marker) {
				score += 10
			}
		}
		if score == 0 {
			continue
		}
		score += len(t) / 20
		if score > bestScore {
			best, bestScore = t, score
		}
	}
	return best
}

// detailTitle fetches the document's detail page and pulls the first usable
// heading. Failures are logged and swallowed; the caller falls back.
func (c *Crawler) detailTitle(ctx context.Context, m *rowMeta) string {
	if m.No == "" || m.Tur == 0 {
		return ""
	}
	u := fmt.Sprintf("%sMevzuat?MevzuatNo=%s&MevzuatTur=%d&MevzuatTertip=%d", c.baseURL, m.No, m.Tur, m.Tertib)
	resp, err := c.httpc.R().SetContext(ctx).Get(u)
	if err != nil || resp.StatusCode() >= 300 {
		c.log.Debugw("detail page fetch failed", "url", u, "err", err)
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
	if err != nil {
		return ""
	}
	for _, sel := range []string{"h1", "h2", "title"} {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if t := stripTags(s.Text()); len(t) >= 10 {
				found = t
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return ""
}
