package fetcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/mevra-dev/mevra/internal/core"
	"github.com/mevra-dev/mevra/internal/models"
)

// mevzuatStrategy covers the standard legislation sources whose PDFs live at
// MevzuatMetin/{tur}.{tertib}.{no}.pdf.
type mevzuatStrategy struct {
	name    string
	tur     int // default MevzuatTur when the row metadata lacks one
	baseURL string
}

func (s *mevzuatStrategy) Name() string { return s.name }

func (s *mevzuatStrategy) BuildDocumentURL(doc *models.Document) (string, error) {
	tur, tertib, no, err := s.identifiers(doc)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%sMevzuatMetin/%s.%s.%s.pdf", s.base(), tur, tertib, no), nil
}

func (s *mevzuatStrategy) ExtractMetadata(doc *models.Document) map[string]string { return nil }

func (s *mevzuatStrategy) base() string {
	if strings.HasSuffix(s.baseURL, "/") {
		return s.baseURL
	}
	return s.baseURL + "/"
}

func (s *mevzuatStrategy) identifiers(doc *models.Document) (tur, tertib, no string, err error) {
	tur = doc.Metadata[MetaTur]
	if tur == "" {
		tur = fmt.Sprintf("%d", s.tur)
	}
	tertib = doc.Metadata[MetaTertib]
	if tertib == "" {
		tertib = fmt.Sprintf("%d", doc.Series)
	}
	no = doc.NativeNumber
	if no == "" {
		no = doc.Metadata[MetaNo]
	}
	if no == "" {
		return "", "", "", core.Formatf("document %s has no native number", doc.ID)
	}
	return tur, tertib, no, nil
}

// genelgeStrategy covers presidential circulars, addressed by gazette date
// plus number instead of the tur/tertib/no triplet.
type genelgeStrategy struct {
	mevzuatStrategy
}

func (s *genelgeStrategy) BuildDocumentURL(doc *models.Document) (string, error) {
	no := doc.NativeNumber
	if no == "" {
		no = doc.Metadata[MetaNo]
	}
	if no == "" {
		return "", core.Formatf("document %s has no native number", doc.ID)
	}

	date := doc.Date
	if date == nil {
		if raw := doc.Metadata[MetaGazetteDate]; raw != "" {
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				return "", core.Formatf("document %s has unparseable gazette date %q", doc.ID, raw)
			}
			date = &parsed
		}
	}
	if date == nil {
		return "", core.Formatf("document %s has no gazette date", doc.ID)
	}

	return fmt.Sprintf("%sMevzuatMetin/CumhurbaskanligiGenelgeleri/%s-%s.pdf",
		s.base(), date.Format("20060102"), no), nil
}

// yonetmelikStrategy covers institutional regulations, which sit under a
// dedicated path prefix (MevzuatTur 7, 8 and 9 share it).
type yonetmelikStrategy struct {
	mevzuatStrategy
}

func (s *yonetmelikStrategy) BuildDocumentURL(doc *models.Document) (string, error) {
	tur, tertib, no, err := s.identifiers(doc)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%sMevzuatMetin/yonetmelik/%s.%s.%s.pdf", s.base(), tur, tertib, no), nil
}
