package dto

import (
	"time"

	"recordmanager/internal/domain/dedup"
	"recordmanager/internal/domain/record"
)

// KeysResponse lists candidate keys.
type KeysResponse struct {
	Title []string `json:"title"`
	ISBN  []string `json:"isbn"`
	ID    []string `json:"id"`
}

// RecordResponse is a record without its metadata payload.
type RecordResponse struct {
	ID            string       `json:"id"`
	SourceID      string       `json:"sourceId"`
	OAIID         string       `json:"oaiId,omitempty"`
	Format        string       `json:"format"`
	Deleted       bool         `json:"deleted"`
	Suppressed    bool         `json:"suppressed"`
	ComponentPart bool         `json:"componentPart"`
	HostRecordIDs []string     `json:"hostRecordIds,omitempty"`
	LinkingIDs    []string     `json:"linkingIds,omitempty"`
	Keys          KeysResponse `json:"keys"`
	DedupID       string       `json:"dedupId,omitempty"`
	UpdateNeeded  bool         `json:"updateNeeded"`
	Created       time.Time    `json:"created"`
	Updated       time.Time    `json:"updated"`
}

// FromRecord maps a record.
func FromRecord(r *record.Record) RecordResponse {
	return RecordResponse{
		ID:            r.ID,
		SourceID:      r.SourceID,
		OAIID:         r.OAIID,
		Format:        r.Format,
		Deleted:       r.Deleted,
		Suppressed:    r.Suppressed,
		ComponentPart: r.IsComponentPart(),
		HostRecordIDs: r.HostRecordIDs,
		LinkingIDs:    r.LinkingIDs,
		Keys:          KeysResponse{Title: orEmpty(r.TitleKeys), ISBN: orEmpty(r.ISBNKeys), ID: orEmpty(r.IDKeys)},
		DedupID:       r.ClusterID(),
		UpdateNeeded:  r.UpdateNeeded,
		Created:       r.Created,
		Updated:       r.Updated,
	}
}

// DedupRecordResponse is a cluster with its members.
type DedupRecordResponse struct {
	ID      string           `json:"id"`
	Deleted bool             `json:"deleted"`
	Changed time.Time        `json:"changed"`
	Version int              `json:"version"`
	IDs     []string         `json:"ids"`
	Members []RecordResponse `json:"members,omitempty"`
}

// FromDedupRecord maps a dedup record. members may be nil.
func FromDedupRecord(d *record.DedupRecord, members []*record.Record) DedupRecordResponse {
	resp := DedupRecordResponse{
		ID:      d.ID,
		Deleted: d.Deleted,
		Changed: d.Changed,
		Version: d.Version,
		IDs:     orEmpty(d.IDs),
	}
	for _, m := range members {
		resp.Members = append(resp.Members, FromRecord(m))
	}
	return resp
}

// JournalEntryResponse is one journal line.
type JournalEntryResponse struct {
	DedupID  string    `json:"dedupId"`
	RecordID string    `json:"recordId,omitempty"`
	Action   string    `json:"action"`
	Detail   string    `json:"detail,omitempty"`
	IDs      []string  `json:"ids,omitempty"`
	Created  time.Time `json:"created"`
}

// FromJournalEntry maps a journal entry.
func FromJournalEntry(e dedup.JournalEntry) JournalEntryResponse {
	resp := JournalEntryResponse{
		DedupID:  e.DedupID,
		RecordID: e.RecordID,
		Action:   e.Action,
		Detail:   e.Detail,
		Created:  e.Created,
	}
	if e.Snapshot != nil {
		resp.IDs = e.Snapshot.IDs
	}
	return resp
}

// RunResponse is the summary of a dedup run.
type RunResponse struct {
	Processed int      `json:"processed"`
	Changed   int      `json:"changed"`
	Errors    int      `json:"errors"`
	Failed    []string `json:"failed,omitempty"`
	DedupID   string   `json:"dedupId,omitempty"`
}

// CheckResponse lists the repairs made.
type CheckResponse struct {
	Fixes []string `json:"fixes"`
}

// PropagateResponse reports flagged hosts.
type PropagateResponse struct {
	Hosts int `json:"hosts"`
}

// SourceResponse is a configured source with record counts.
type SourceResponse struct {
	ID           string   `json:"id"`
	Format       string   `json:"format"`
	Dedup        bool     `json:"dedup"`
	HostSources  []string `json:"hostSources,omitempty"`
	Records      int64    `json:"records"`
	UpdateNeeded int64    `json:"updateNeeded"`
	Clustered    int64    `json:"clustered"`
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
