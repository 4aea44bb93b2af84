// Package keys derives candidate keys from parsed metadata records.
package keys

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"recordmanager/internal/config"
	"recordmanager/internal/domain/record"
	"recordmanager/internal/metadata"
)

// Extractor computes title, ISBN and identifier keys.
type Extractor struct {
	minTitleLength int
	maxLength      int
	withFormat     bool
	articles       []string
}

// NewExtractor builds an extractor from the dedup configuration.
func NewExtractor(cfg config.DedupConfig) *Extractor {
	articles := make([]string, 0, len(cfg.Articles))
	for _, a := range cfg.Articles {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			articles = append(articles, a)
		}
	}
	// longest first so "les" wins over "le"
	sort.Slice(articles, func(i, j int) bool { return len(articles[i]) > len(articles[j]) })

	return &Extractor{
		minTitleLength: cfg.MinTitleLength,
		maxLength:      cfg.TitleKeyMaxLength,
		withFormat:     cfg.TitleKeyWithFormat,
		articles:       articles,
	}
}

// Extract returns the key sets of md. Component parts get none.
func (e *Extractor) Extract(md metadata.Record) record.CandidateKeys {
	if md == nil || len(md.HostRecordIDs()) > 0 {
		return record.CandidateKeys{}
	}

	var k record.CandidateKeys
	if t := e.TitleKey(md.Title(), md.FormatFamily()); t != "" {
		k.Title = []string{t}
	}
	for _, raw := range md.ISBNs() {
		if isbn, ok := NormalizeISBN(raw); ok {
			k.ISBN = append(k.ISBN, isbn)
		}
	}
	for _, raw := range md.UniqueIDs() {
		if id := NormalizeID(raw); id != "" {
			k.ID = append(k.ID, id)
		}
	}
	return k.Normalize()
}

// TitleKey normalizes a title. It returns "" when the result is shorter
// than the configured minimum.
func (e *Extractor) TitleKey(title, family string) string {
	s := e.NormalizeTitle(title)
	if utf8.RuneCountInString(s) < e.minTitleLength {
		return ""
	}
	if e.maxLength > 0 && utf8.RuneCountInString(s) > e.maxLength {
		s = strings.TrimSpace(string([]rune(s)[:e.maxLength]))
	}
	if e.withFormat && family != "" {
		s = family + "|" + s
	}
	return s
}

// NormalizeTitle folds case and diacritics, strips one leading article and
// punctuation, and collapses whitespace.
func (e *Extractor) NormalizeTitle(title string) string {
	return removePunct(e.stripArticle(foldMarks(title)))
}

// Fold is NormalizeTitle without article removal. Used for names.
func Fold(s string) string {
	return removePunct(foldMarks(s))
}

func foldMarks(s string) string {
	s = strings.ReplaceAll(s, "’", "'")
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(stripMarks(s)), " ")
}

func removePunct(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '-' || r == '/' || r == '_':
			b.WriteRune(' ')
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func (e *Extractor) stripArticle(s string) string {
	for _, a := range e.articles {
		if strings.HasSuffix(a, "'") {
			if strings.HasPrefix(s, a) && len(s) > len(a) {
				return strings.TrimSpace(s[len(a):])
			}
			continue
		}
		if strings.HasPrefix(s, a+" ") {
			return s[len(a)+1:]
		}
	}
	return s
}

func stripMarks(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeID lower-cases an identifier and collapses its whitespace.
func NormalizeID(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeISBN returns the ISBN-13 form of an ISBN-10 or ISBN-13 value.
// Hyphens and spaces are ignored and a trailing qualifier such as "(nid.)"
// is dropped. ok is false for anything that fails the checksum.
func NormalizeISBN(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) >= 4 && strings.EqualFold(s[:4], "isbn") {
		s = strings.TrimLeft(s[4:], " :")
	}

	digits := make([]byte, 0, 13)
scan:
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits = append(digits, c)
		case c == 'X' || c == 'x':
			digits = append(digits, 'X')
		case c == '-' || c == ' ':
			continue
		default:
			break scan
		}
		if len(digits) > 13 {
			return "", false
		}
	}

	switch len(digits) {
	case 10:
		if !validISBN10(digits) {
			return "", false
		}
		isbn := append([]byte("978"), digits[:9]...)
		return string(append(isbn, isbn13Check(isbn))), true
	case 13:
		if !validISBN13(digits) {
			return "", false
		}
		return string(digits), true
	default:
		return "", false
	}
}

func validISBN10(d []byte) bool {
	sum := 0
	for i, c := range d {
		v := int(c - '0')
		if c == 'X' {
			if i != 9 {
				return false
			}
			v = 10
		}
		sum += (10 - i) * v
	}
	return sum%11 == 0
}

func validISBN13(d []byte) bool {
	if string(d[:3]) != "978" && string(d[:3]) != "979" {
		return false
	}
	for _, c := range d {
		if c == 'X' {
			return false
		}
	}
	return isbn13Check(d[:12]) == d[12]
}

func isbn13Check(d []byte) byte {
	sum := 0
	for i, c := range d[:12] {
		w := 1
		if i%2 == 1 {
			w = 3
		}
		sum += w * int(c-'0')
	}
	return byte('0' + (10-sum%10)%10)
}
