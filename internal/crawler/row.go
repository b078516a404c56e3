package crawler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mevra-dev/mevra/internal/fetcher"
)

// row is one listing entry as returned by the portal's DataTables endpoint.
// Field names vary between sources, so everything is resolved heuristically.
type row map[string]any

// rowMeta is the structured key and metadata resolved from a row.
type rowMeta struct {
	Tur         int
	Tertib      int
	No          string
	GazetteDate *time.Time
	Bag         map[string]string
}

// key is the in-run dedup key ("" No means the row is unresolvable).
func (m *rowMeta) key() string {
	return m.No + "." + strconv.Itoa(m.Tertib)
}

const defaultTertib = 5

var (
	gazetteDateKeys = []string{"ResmiGazeteTarihi", "ResmiGazeteYayinTarihi", "RG_Tarihi", "YayinTarihi"}
	kabulDateKeys   = []string{"KabulTarihi", "KabulTarih", "Kabul"}
	oldLawKeys      = []string{"HasOldLaw", "MulgaKanunVar", "MülgaKanunVar", "EskiMevzuatVar", "EskiMevzuat"}

	msDateRe = regexp.MustCompile(`^/Date\((-?\d+)\)/$`)
	tagRe    = regexp.MustCompile(`<[^>]+>`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// resolveRow builds the structured key and metadata bag for a listing row,
// following the prioritized chain: exact field names first, then query-string
// parameters embedded in any URL-shaped value.
func resolveRow(r row) *rowMeta {
	tur, turOK := firstInt(r, "MevzuatTur", "Tur", "MevzuatTurId")
	tertib, tertibOK := firstInt(r, "MevzuatTertip", "MevzuatTertib")
	no := firstString(r, "MevzuatNo", "No")

	if !turOK || !tertibOK || no == "" {
		uTur, uTertib, uNo := idsFromURLs(r)
		if !turOK && uTur != 0 {
			tur = uTur
		}
		if !tertibOK && uTertib != 0 {
			tertib, tertibOK = uTertib, true
		}
		if no == "" {
			no = uNo
		}
	}
	if !tertibOK {
		tertib = defaultTertib
	}

	m := &rowMeta{Tur: tur, Tertib: tertib, No: no, GazetteDate: gazetteDate(r)}

	bag := map[string]string{
		fetcher.MetaNo:     no,
		fetcher.MetaTertib: strconv.Itoa(tertib),
	}
	if tur != 0 {
		bag[fetcher.MetaTur] = strconv.Itoa(tur)
	}
	if m.GazetteDate != nil {
		bag[fetcher.MetaGazetteDate] = m.GazetteDate.Format("2006-01-02")
	}
	if d := firstDate(r, kabulDateKeys); d != nil {
		bag[fetcher.MetaKabulDate] = d.Format("2006-01-02")
	}
	if sayisi, mukerrer := gazetteNumber(r); sayisi != "" {
		bag[fetcher.MetaGazetteNo] = sayisi
		bag[fetcher.MetaMukerrer] = strconv.FormatBool(mukerrer)
	}
	if nitelik := firstString(r, "Nitelik"); nitelik != "" {
		bag[fetcher.MetaNitelik] = nitelik
	}
	if hasOldLaw(r) {
		bag[fetcher.MetaHasOldLaw] = "true"
	}
	if tt, ok := firstInt(r, "TuzukMevzuatTur"); ok {
		bag[fetcher.MetaTuzukTur] = strconv.Itoa(tt)
	}
	m.Bag = bag
	return m
}

var (
	noParamRe     = regexp.MustCompile(`MevzuatNo=([^&"'<>\s]+)`)
	turParamRe    = regexp.MustCompile(`MevzuatTur=(\d+)`)
	tertibParamRe = regexp.MustCompile(`MevzuatTertip=(\d+)`)
)

// idsFromURLs scans string values for an embedded detail link (plain URL or
// HTML anchor) and pulls the key out of its query parameters.
func idsFromURLs(r row) (tur, tertib int, no string) {
	for _, v := range r {
		s, ok := v.(string)
		if !ok || !strings.Contains(s, "MevzuatNo=") {
			continue
		}
		if !strings.Contains(s, "MevzuatTur=") && !strings.Contains(s, "MevzuatTertip=") {
			continue
		}
		if m := noParamRe.FindStringSubmatch(s); m != nil {
			no = m[1]
		}
		if m := turParamRe.FindStringSubmatch(s); m != nil {
			tur, _ = strconv.Atoi(m[1])
		}
		if m := tertibParamRe.FindStringSubmatch(s); m != nil {
			tertib, _ = strconv.Atoi(m[1])
		}
		if no != "" {
			return tur, tertib, no
		}
	}
	return 0, 0, ""
}

// gazetteDate resolves the significant date: known keys, then key-name
// heuristics, then any value that parses as a date.
func gazetteDate(r row) *time.Time {
	if d := firstDate(r, gazetteDateKeys); d != nil {
		return d
	}
	for k, v := range r {
		kl := strings.ToLower(k)
		rg := (strings.Contains(kl, "resmi") || strings.Contains(kl, "rg")) &&
			strings.Contains(kl, "gazete") && strings.Contains(kl, "tarih")
		yayin := strings.Contains(kl, "yayin") && strings.Contains(kl, "tarih")
		if rg || yayin {
			if d := parseDate(v); d != nil {
				return d
			}
		}
	}
	for _, v := range r {
		if d := parseDate(v); d != nil {
			return d
		}
	}
	return nil
}

func firstDate(r row, keys []string) *time.Time {
	for _, k := range keys {
		if v, ok := r[k]; ok {
			if d := parseDate(v); d != nil {
				return d
			}
		}
	}
	return nil
}

// parseDate understands the portal's date shapes: ASP.NET /Date(ms)/ stamps,
// raw millisecond numbers and the usual dotted/dashed formats.
func parseDate(v any) *time.Time {
	switch val := v.(type) {
	case nil:
		return nil
	case float64:
		return fromMillis(int64(val))
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil
		}
		if m := msDateRe.FindStringSubmatch(s); m != nil {
			ms, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				return nil
			}
			return fromMillis(ms)
		}
		if len(s) > 10 {
			s = s[:10]
		}
		for _, layout := range []string{"02.01.2006", "2006-01-02", "02/01/2006", "02-01-2006"} {
			if t, err := time.Parse(layout, s); err == nil {
				return &t
			}
		}
	}
	return nil
}

func fromMillis(ms int64) *time.Time {
	// Small numbers are ids or counts, not epoch stamps.
	if ms < 1e11 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

func gazetteNumber(r row) (string, bool) {
	s := firstString(r, "ResmiGazeteSayisi", "RGSayisi")
	if s == "" {
		return "", false
	}
	lower := strings.ToLower(s)
	return s, strings.Contains(lower, "mükerrer") || strings.Contains(lower, "mukerrer")
}

func hasOldLaw(r row) bool {
	for _, k := range oldLawKeys {
		v, ok := r[k]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case bool:
			return val
		case float64:
			return val != 0
		case string:
			s := strings.ToLower(strings.TrimSpace(val))
			return s == "1" || s == "true" || s == "evet" || s == "var" || s == "yes"
		}
	}
	return false
}

func firstString(r row, keys ...string) string {
	for _, k := range keys {
		switch v := r[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return trimFloat(v)
		}
	}
	return ""
}

func firstInt(r row, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := r[k].(type) {
		case float64:
			return int(v), true
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprintf("%v", f)
}

// stripTags removes markup and collapses whitespace.
func stripTags(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(tagRe.ReplaceAllString(s, " "), " "))
}
