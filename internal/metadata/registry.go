// Package metadata parses stored record payloads into the format-neutral view
// the dedup engine consumes.
package metadata

import (
	"fmt"
	"sort"

	"recordmanager/internal/core/apperror"
)

// Format families used to bucket title keys and to reject cross-format matches.
const (
	FamilyBook   = "book"
	FamilySerial = "serial"
	FamilyAudio  = "audio"
	FamilyVideo  = "video"
	FamilyMusic  = "music"
	FamilyMap    = "map"
	FamilyOther  = "other"
)

// Record is the capability set the dedup engine needs from a parsed
// metadata record.
type Record interface {
	ID() string
	Title() string
	ISBNs() []string
	// UniqueIDs are identifiers the source asserts as authoritative cross-references.
	UniqueIDs() []string
	Authors() []string
	// PublicationYear returns 0 when unknown.
	PublicationYear() int
	FormatFamily() string
	HostRecordIDs() []string
	LinkingIDs() []string
	Suppressed() bool
}

// Parser turns a stored payload into a Record.
type Parser func(data []byte) (Record, error)

// Registry maps format names to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry with the built-in formats registered.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	r.Register(FormatMARC, ParseMARC)
	r.Register(FormatDC, ParseDC)
	return r
}

func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}

// Supports reports whether format has a parser.
func (r *Registry) Supports(format string) bool {
	_, ok := r.parsers[format]
	return ok
}

// Parse decodes data in the given format. An unknown format is a
// configuration error; a malformed payload is a validation error.
func (r *Registry) Parse(format string, data []byte) (Record, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, apperror.NewConfig(fmt.Sprintf("unsupported metadata format %q", format))
	}
	rec, err := p(data)
	if err != nil {
		return nil, apperror.NewValidation(fmt.Sprintf("malformed %s record", format)).WithCause(err)
	}
	return rec, nil
}

// Formats lists registered format names.
func (r *Registry) Formats() []string {
	list := make([]string, 0, len(r.parsers))
	for name := range r.parsers {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}
