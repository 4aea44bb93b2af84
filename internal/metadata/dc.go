package metadata

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// FormatDC is unqualified Dublin Core as delivered in oai_dc.
const FormatDC = "dc"

type dublinCore struct {
	Titles     []string `xml:"title"`
	Creator    []string `xml:"creator"`
	Date       []string `xml:"date"`
	Type       []string `xml:"type"`
	Identifier []string `xml:"identifier"`
	Relation   []string `xml:"relation"`
	Rights     []string `xml:"rights"`
}

// ParseDC reads the first <dc> element of an oai_dc document.
func ParseDC(data []byte) (Record, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("no dc element")
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "dc" {
			continue
		}
		var rec dublinCore
		if err := dec.DecodeElement(&rec, &se); err != nil {
			return nil, err
		}
		return &rec, nil
	}
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (d *dublinCore) ID() string {
	return first(d.Identifier)
}

func (d *dublinCore) Title() string {
	return first(d.Titles)
}

// ISBNs returns identifiers in urn:isbn: or isbn: form.
func (d *dublinCore) ISBNs() []string {
	var out []string
	for _, id := range d.Identifier {
		id = strings.TrimSpace(id)
		lower := strings.ToLower(id)
		switch {
		case strings.HasPrefix(lower, "urn:isbn:"):
			out = append(out, id[len("urn:isbn:"):])
		case strings.HasPrefix(lower, "isbn:"):
			out = append(out, strings.TrimSpace(id[len("isbn:"):]))
		}
	}
	return out
}

// UniqueIDs returns URN:NBN and DOI identifiers.
func (d *dublinCore) UniqueIDs() []string {
	var out []string
	for _, id := range d.Identifier {
		id = strings.TrimSpace(id)
		lower := strings.ToLower(id)
		switch {
		case strings.HasPrefix(lower, "urn:nbn:"):
			out = append(out, id)
		case strings.HasPrefix(lower, "https://doi.org/"):
			out = append(out, "doi:"+id[len("https://doi.org/"):])
		case strings.HasPrefix(lower, "doi:"):
			out = append(out, id)
		}
	}
	return out
}

func (d *dublinCore) Authors() []string {
	var out []string
	for _, c := range d.Creator {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func (d *dublinCore) PublicationYear() int {
	for _, date := range d.Date {
		if y := findYear(date); y > 0 {
			return y
		}
	}
	return 0
}

func (d *dublinCore) FormatFamily() string {
	t := strings.ToLower(first(d.Type))
	switch {
	case t == "", strings.Contains(t, "text"), strings.Contains(t, "book"):
		return FamilyBook
	case strings.Contains(t, "sound"), strings.Contains(t, "audio"):
		return FamilyAudio
	case strings.Contains(t, "moving"), strings.Contains(t, "video"):
		return FamilyVideo
	case strings.Contains(t, "cartographic"), strings.Contains(t, "map"):
		return FamilyMap
	default:
		return FamilyOther
	}
}

// HostRecordIDs is always empty; oai_dc carries no hierarchy.
func (d *dublinCore) HostRecordIDs() []string { return nil }

func (d *dublinCore) LinkingIDs() []string {
	if id := d.ID(); id != "" {
		return []string{id}
	}
	return nil
}

func (d *dublinCore) Suppressed() bool { return false }
