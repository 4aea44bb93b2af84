package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"recordmanager/internal/config"
	"recordmanager/internal/metadata"
)

type stubRecord struct {
	title  string
	isbns  []string
	ids    []string
	family string
	hosts  []string
}

func (s stubRecord) ID() string              { return "1" }
func (s stubRecord) Title() string           { return s.title }
func (s stubRecord) ISBNs() []string         { return s.isbns }
func (s stubRecord) UniqueIDs() []string     { return s.ids }
func (s stubRecord) Authors() []string       { return nil }
func (s stubRecord) PublicationYear() int    { return 0 }
func (s stubRecord) FormatFamily() string    { return s.family }
func (s stubRecord) HostRecordIDs() []string { return s.hosts }
func (s stubRecord) LinkingIDs() []string    { return nil }
func (s stubRecord) Suppressed() bool        { return false }

var _ metadata.Record = stubRecord{}

func newExtractor() *Extractor {
	return NewExtractor(config.Default().Dedup)
}

func TestNormalizeISBN(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"951-31-4836-X", "9789513148362", true},
		{"951-31-4836-X (nid.)", "9789513148362", true},
		{"ISBN 0-306-40615-2", "9780306406157", true},
		{"978-0-306-40615-7", "9780306406157", true},
		{"9789513148362", "9789513148362", true},
		{"951-31-4836-6", "", false},
		{"978-0-306-40615-8", "", false},
		{"12345", "", false},
		{"1234567890123456", "", false},
		{"X306406152", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeISBN(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeISBN_TenAndThirteenAgree(t *testing.T) {
	ten, ok := NormalizeISBN("951-31-4836-X")
	assert.True(t, ok)
	thirteen, ok := NormalizeISBN(ten)
	assert.True(t, ok)
	assert.Equal(t, ten, thirteen)
}

func TestTitleKey(t *testing.T) {
	e := newExtractor()

	assert.Equal(t, "tutki ja kirjoita", e.TitleKey("Tutki ja kirjoita", ""))
	assert.Equal(t, e.TitleKey("Tutki ja kirjoita", ""), e.TitleKey("TUTKI JA KIRJOITA", ""))
	assert.Equal(t, "hobbit", e.TitleKey("The Hobbit", ""))
	assert.Equal(t, "etranger", e.TitleKey("L’Étranger", ""))
	assert.Equal(t, "miserables", e.NormalizeTitle("Les misérables"))
	assert.Equal(t, "miserables", e.TitleKey("Les Misérables!", ""))
	assert.Equal(t, "harry potter and the philosophers stone",
		e.TitleKey("Harry Potter and the Philosopher's Stone :", ""))
	assert.Equal(t, "theory of everything", e.TitleKey("Theory-of-everything", ""))
	assert.Equal(t, "", e.TitleKey("A ok", ""), "too short after article removal")
	assert.Equal(t, "", e.TitleKey("   ", ""))
}

func TestTitleKey_FormatAndTruncation(t *testing.T) {
	cfg := config.Default().Dedup
	cfg.TitleKeyWithFormat = true
	cfg.TitleKeyMaxLength = 10
	e := NewExtractor(cfg)

	assert.Equal(t, "book|very long", e.TitleKey("A very long title indeed", "book"))
	assert.Equal(t, "very long", e.TitleKey("A very long title indeed", ""))
}

func TestExtract(t *testing.T) {
	e := newExtractor()

	k := e.Extract(stubRecord{
		title:  "Tutki ja kirjoita",
		isbns:  []string{"951-31-4836-X", "9789513148362", "bogus"},
		ids:    []string{"(OCoLC)  42452727", " "},
		family: metadata.FamilyBook,
	})
	assert.Equal(t, []string{"tutki ja kirjoita"}, k.Title)
	assert.Equal(t, []string{"9789513148362"}, k.ISBN)
	assert.Equal(t, []string{"(ocolc) 42452727"}, k.ID)
}

func TestExtract_ComponentPartAndEmpty(t *testing.T) {
	e := newExtractor()

	part := e.Extract(stubRecord{title: "Long enough title", isbns: []string{"9780306406157"}, hosts: []string{"h1"}})
	assert.True(t, part.Empty())

	none := e.Extract(stubRecord{title: "ab"})
	assert.True(t, none.Empty())
	assert.True(t, e.Extract(nil).Empty())
}

func TestFold(t *testing.T) {
	assert.Equal(t, "hirsjarvi sirkka", Fold("Hirsjärvi, Sirkka."))
	assert.Equal(t, "the end", Fold("THE  End"))
}
