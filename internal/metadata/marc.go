package metadata

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// FormatMARC is MARC 21 serialized as MARCXML.
const FormatMARC = "marc"

type marcRecord struct {
	Leader        string         `xml:"leader"`
	ControlFields []controlField `xml:"controlfield"`
	DataFields    []dataField    `xml:"datafield"`
}

type controlField struct {
	Tag   string `xml:"tag,attr"`
	Value string `xml:",chardata"`
}

type dataField struct {
	Tag       string     `xml:"tag,attr"`
	Ind1      string     `xml:"ind1,attr"`
	Ind2      string     `xml:"ind2,attr"`
	Subfields []subfield `xml:"subfield"`
}

type subfield struct {
	Code  string `xml:"code,attr"`
	Value string `xml:",chardata"`
}

var yearRe = regexp.MustCompile(`(?:^|[^0-9])(1[0-9]{3}|20[0-9]{2})(?:[^0-9]|$)`)

// findYear returns the first plausible four-digit year in s, or 0.
func findYear(s string) int {
	m := yearRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	y, _ := strconv.Atoi(m[1])
	return y
}

// ParseMARC reads the first <record> element of a MARCXML document. A
// wrapping <collection> is accepted.
func ParseMARC(data []byte) (Record, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("no record element")
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "record" {
			continue
		}
		var rec marcRecord
		if err := dec.DecodeElement(&rec, &se); err != nil {
			return nil, err
		}
		return &rec, nil
	}
}

func (m *marcRecord) control(tag string) string {
	for _, f := range m.ControlFields {
		if f.Tag == tag {
			return f.Value
		}
	}
	return ""
}

// subfields returns every non-empty $code value of the given tags, in record order.
func (m *marcRecord) subfields(code string, tags ...string) []string {
	var out []string
	for _, f := range m.DataFields {
		if !containsString(tags, f.Tag) {
			continue
		}
		for _, sf := range f.Subfields {
			if sf.Code == code {
				if v := strings.TrimSpace(sf.Value); v != "" {
					out = append(out, v)
				}
			}
		}
	}
	return out
}

func (m *marcRecord) ID() string {
	return strings.TrimSpace(m.control("001"))
}

func (m *marcRecord) Title() string {
	for _, f := range m.DataFields {
		if f.Tag != "245" {
			continue
		}
		var parts []string
		for _, sf := range f.Subfields {
			if sf.Code == "a" || sf.Code == "b" {
				if v := strings.TrimRight(strings.TrimSpace(sf.Value), " /:;.,="); v != "" {
					parts = append(parts, v)
				}
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func (m *marcRecord) ISBNs() []string {
	return m.subfields("a", "020")
}

func (m *marcRecord) UniqueIDs() []string {
	return m.subfields("a", "015", "035")
}

func (m *marcRecord) Authors() []string {
	names := m.subfields("a", "100", "110", "700", "710")
	for i, n := range names {
		names[i] = strings.TrimRight(n, " ,.")
	}
	return names
}

func (m *marcRecord) PublicationYear() int {
	if f := m.control("008"); len(f) >= 11 {
		if y, err := strconv.Atoi(f[7:11]); err == nil && y > 0 {
			return y
		}
	}
	for _, c := range m.subfields("c", "260", "264") {
		if y := findYear(c); y > 0 {
			return y
		}
	}
	return 0
}

// FormatFamily maps leader positions 6 (type) and 7 (level) to a family.
func (m *marcRecord) FormatFamily() string {
	if len(m.Leader) < 8 {
		return FamilyOther
	}
	switch m.Leader[6] {
	case 'a', 't':
		if m.Leader[7] == 's' || m.Leader[7] == 'b' {
			return FamilySerial
		}
		return FamilyBook
	case 'c', 'd', 'j':
		return FamilyMusic
	case 'e', 'f':
		return FamilyMap
	case 'g':
		return FamilyVideo
	case 'i':
		return FamilyAudio
	default:
		return FamilyOther
	}
}

func (m *marcRecord) HostRecordIDs() []string {
	return m.subfields("w", "773")
}

// LinkingIDs returns 001 and, when 003 is present, the qualified (003)001 form.
func (m *marcRecord) LinkingIDs() []string {
	id := m.ID()
	if id == "" {
		return nil
	}
	ids := []string{id}
	if org := strings.TrimSpace(m.control("003")); org != "" {
		ids = append(ids, "("+org+")"+id)
	}
	return ids
}

func (m *marcRecord) Suppressed() bool {
	for _, v := range m.subfields("a", "STA") {
		if strings.EqualFold(v, "SUPPRESSED") {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
