// Package record defines the stored entities of the dedup engine: harvested
// records and the dedup records (clusters) that group them.
package record

import (
	"sort"
	"strings"
	"time"
)

// Record is one source's metadata description of an item.
type Record struct {
	// ID is globally unique, formatted <source>.<local-id>
	ID       string `db:"id" json:"id"`
	SourceID string `db:"source_id" json:"sourceId"`
	OAIID    string `db:"oai_id" json:"oaiId,omitempty"`
	Format   string `db:"format" json:"format"`

	Deleted    bool `db:"deleted" json:"deleted"`
	Suppressed bool `db:"suppressed" json:"suppressed"`

	// HostRecordIDs is set when this record is a component part.
	HostRecordIDs []string `db:"host_record_id" json:"hostRecordId,omitempty"`

	// LinkingIDs are the ids component parts use to reference this record.
	LinkingIDs []string `db:"linking_id" json:"linkingId,omitempty"`

	TitleKeys []string `db:"title_keys" json:"titleKeys,omitempty"`
	ISBNKeys  []string `db:"isbn_keys" json:"isbnKeys,omitempty"`
	IDKeys    []string `db:"id_keys" json:"idKeys,omitempty"`

	// DedupID is the back-reference to the cluster, nil when unclustered.
	DedupID *string `db:"dedup_id" json:"dedupId,omitempty"`

	UpdateNeeded bool `db:"update_needed" json:"updateNeeded"`

	// Data is the normalized metadata payload in Format.
	Data []byte `db:"data" json:"-"`

	Created time.Time `db:"created" json:"created"`
	Updated time.Time `db:"updated" json:"updated"`
}

// IsComponentPart reports whether the record has a hierarchical parent.
func (r *Record) IsComponentPart() bool {
	return len(r.HostRecordIDs) > 0
}

// Matchable reports whether the record may take part in matching.
func (r *Record) Matchable() bool {
	return !r.Deleted && !r.Suppressed && !r.IsComponentPart() && !r.Keys().Empty()
}

// Keys returns the record's candidate keys.
func (r *Record) Keys() CandidateKeys {
	return CandidateKeys{Title: r.TitleKeys, ISBN: r.ISBNKeys, ID: r.IDKeys}
}

// SetKeys replaces the record's candidate keys.
func (r *Record) SetKeys(k CandidateKeys) {
	k = k.Normalize()
	r.TitleKeys = k.Title
	r.ISBNKeys = k.ISBN
	r.IDKeys = k.ID
}

// ClusterID returns the dedup id or "".
func (r *Record) ClusterID() string {
	if r.DedupID == nil {
		return ""
	}
	return *r.DedupID
}

// SetCluster sets or clears (with "") the dedup id.
func (r *Record) SetCluster(clusterID string) {
	if clusterID == "" {
		r.DedupID = nil
		return
	}
	id := clusterID
	r.DedupID = &id
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.HostRecordIDs = cloneStrings(r.HostRecordIDs)
	c.LinkingIDs = cloneStrings(r.LinkingIDs)
	c.TitleKeys = cloneStrings(r.TitleKeys)
	c.ISBNKeys = cloneStrings(r.ISBNKeys)
	c.IDKeys = cloneStrings(r.IDKeys)
	c.Data = append([]byte(nil), r.Data...)
	if r.DedupID != nil {
		c.SetCluster(*r.DedupID)
	}
	return &c
}

// SourceOf returns the source part of a record id.
func SourceOf(recordID string) string {
	if i := strings.IndexByte(recordID, '.'); i > 0 {
		return recordID[:i]
	}
	return ""
}

// DedupRecord is a cluster of records believed to describe the same work.
type DedupRecord struct {
	ID      string    `db:"id" json:"id"`
	IDs     []string  `db:"ids" json:"ids"`
	Deleted bool      `db:"deleted" json:"deleted"`
	Changed time.Time `db:"changed" json:"changed"`

	// Version guards concurrent membership updates. Zero means not stored yet.
	Version int `db:"version" json:"version"`
}

// Has reports whether recordID is a member.
func (d *DedupRecord) Has(recordID string) bool {
	for _, id := range d.IDs {
		if id == recordID {
			return true
		}
	}
	return false
}

// Add inserts recordID, keeping IDs sorted. Returns false if already present.
func (d *DedupRecord) Add(recordID string) bool {
	if d.Has(recordID) {
		return false
	}
	d.IDs = append(d.IDs, recordID)
	sort.Strings(d.IDs)
	return true
}

// Remove deletes recordID. Returns false if it was not a member.
func (d *DedupRecord) Remove(recordID string) bool {
	for i, id := range d.IDs {
		if id == recordID {
			d.IDs = append(d.IDs[:i:i], d.IDs[i+1:]...)
			return true
		}
	}
	return false
}

// HasSource reports whether a member other than exceptID comes from sourceID.
func (d *DedupRecord) HasSource(sourceID, exceptID string) bool {
	for _, id := range d.IDs {
		if id != exceptID && SourceOf(id) == sourceID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (d *DedupRecord) Clone() *DedupRecord {
	if d == nil {
		return nil
	}
	c := *d
	c.IDs = cloneStrings(d.IDs)
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
