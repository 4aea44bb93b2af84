package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"recordmanager/internal/app"
	"recordmanager/internal/core/apperror"
	"recordmanager/internal/domain/dedup"
	"recordmanager/internal/domain/record"
	"recordmanager/internal/infrastructure/http/v1/dto"
)

// RecordHandler serves record inspection and single-record operations.
type RecordHandler struct {
	*BaseHandler
	svc *app.Services
}

// NewRecordHandler creates a record handler.
func NewRecordHandler(base *BaseHandler, svc *app.Services) *RecordHandler {
	return &RecordHandler{BaseHandler: base, svc: svc}
}

func (h *RecordHandler) load(c *gin.Context) (*record.Record, bool) {
	id := c.Param("id")
	rec, err := h.svc.Stores.Records.GetRecord(c.Request.Context(), id)
	if err != nil {
		h.Error(c, err)
		return nil, false
	}
	if rec == nil {
		h.Error(c, apperror.NewNotFound("record", id))
		return nil, false
	}
	return rec, true
}

// Get returns a record with its keys and dedup link.
// GET /api/v1/records/:id
func (h *RecordHandler) Get(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	h.OK(c, dto.FromRecord(rec))
}

// Dedup runs the match engine on one record regardless of its flag.
// POST /api/v1/records/:id/dedup
func (h *RecordHandler) Dedup(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	sum, err := h.svc.Controller.Run(ctx, dedup.RunOptions{RecordID: id})
	if err != nil {
		h.Error(c, err)
		return
	}

	resp := dto.RunResponse{
		Processed: sum.Processed,
		Changed:   sum.Changed,
		Errors:    sum.Errors,
		Failed:    sum.Failed,
	}
	if rec, err := h.svc.Stores.Records.GetRecord(ctx, id); err == nil && rec != nil {
		resp.DedupID = rec.ClusterID()
	}
	h.OK(c, resp)
}

// Check repairs the record's link to its dedup record.
// POST /api/v1/records/:id/check
func (h *RecordHandler) Check(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	fix, err := h.svc.Checker.CheckRecordLinks(c.Request.Context(), rec)
	if err != nil {
		h.Error(c, err)
		return
	}
	resp := dto.CheckResponse{Fixes: []string{}}
	if fix != "" {
		resp.Fixes = append(resp.Fixes, fix)
	}
	h.OK(c, resp)
}

// Propagate flags the hosts of a component part for re-evaluation.
// POST /api/v1/records/:id/propagate
func (h *RecordHandler) Propagate(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	if !rec.IsComponentPart() {
		h.Error(c, apperror.NewValidation("record is not a component part").WithDetail("record_id", rec.ID))
		return
	}

	var n int
	err := h.svc.Stores.Tx.RunInTransaction(c.Request.Context(), func(ctx context.Context) error {
		var err error
		n, err = h.svc.Propagator.MarkHostsForUpdate(ctx, rec)
		return err
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.PropagateResponse{Hosts: n})
}
