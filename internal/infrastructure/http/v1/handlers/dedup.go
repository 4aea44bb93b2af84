package handlers

import (
	"github.com/gin-gonic/gin"

	"recordmanager/internal/app"
	"recordmanager/internal/core/apperror"
	"recordmanager/internal/domain/record"
	"recordmanager/internal/infrastructure/http/v1/dto"
)

// DedupHandler serves dedup record inspection and repair.
type DedupHandler struct {
	*BaseHandler
	svc *app.Services
}

// NewDedupHandler creates a dedup record handler.
func NewDedupHandler(base *BaseHandler, svc *app.Services) *DedupHandler {
	return &DedupHandler{BaseHandler: base, svc: svc}
}

func (h *DedupHandler) load(c *gin.Context) (*record.DedupRecord, bool) {
	id := c.Param("id")
	d, err := h.svc.Clusters.GetCluster(c.Request.Context(), id)
	if err != nil {
		h.Error(c, err)
		return nil, false
	}
	if d == nil {
		h.Error(c, apperror.NewNotFound("dedup record", id))
		return nil, false
	}
	return d, true
}

// Get returns a dedup record with its member records.
// GET /api/v1/dedup/:id
func (h *DedupHandler) Get(c *gin.Context) {
	d, ok := h.load(c)
	if !ok {
		return
	}

	members := make([]*record.Record, 0, len(d.IDs))
	for _, id := range d.IDs {
		rec, err := h.svc.Stores.Records.GetRecord(c.Request.Context(), id)
		if err != nil {
			h.Error(c, err)
			return
		}
		if rec != nil {
			members = append(members, rec)
		}
	}
	h.OK(c, dto.FromDedupRecord(d, members))
}

// Journal returns the membership history, newest first.
// GET /api/v1/dedup/:id/journal?limit=50
func (h *DedupHandler) Journal(c *gin.Context) {
	if h.svc.Stores.History == nil {
		h.OK(c, dto.NewListResponse[dto.JournalEntryResponse](nil))
		return
	}

	limit := h.ParseIntQuery(c, "limit", 50)
	entries, err := h.svc.Stores.History.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.JournalEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, dto.FromJournalEntry(e))
	}
	h.OK(c, dto.NewListResponse(items))
}

// Check repairs the dedup record against its members.
// POST /api/v1/dedup/:id/check
func (h *DedupHandler) Check(c *gin.Context) {
	d, ok := h.load(c)
	if !ok {
		return
	}
	fixes, err := h.svc.Checker.CheckDedupRecord(c.Request.Context(), d)
	if err != nil {
		h.Error(c, err)
		return
	}
	if fixes == nil {
		fixes = []string{}
	}
	h.OK(c, dto.CheckResponse{Fixes: fixes})
}

// RemoveMember takes a record out of the dedup record.
// DELETE /api/v1/dedup/:id/members/:recordId
func (h *DedupHandler) RemoveMember(c *gin.Context) {
	d, ok := h.load(c)
	if !ok {
		return
	}
	recordID := c.Param("recordId")
	if !d.Has(recordID) {
		h.Error(c, apperror.NewNotFound("dedup record member", recordID).WithDetail("dedup_id", d.ID))
		return
	}
	if err := h.svc.Engine.RemoveFromDedupRecord(c.Request.Context(), d.ID, recordID); err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "record removed from dedup record")
}
