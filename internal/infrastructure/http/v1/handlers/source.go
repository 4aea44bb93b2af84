package handlers

import (
	"sort"

	"github.com/gin-gonic/gin"

	"recordmanager/internal/app"
	"recordmanager/internal/domain/dedup"
	"recordmanager/internal/infrastructure/http/v1/dto"
)

// SourceHandler lists configured sources with record counts.
type SourceHandler struct {
	*BaseHandler
	svc *app.Services
}

// NewSourceHandler creates a source handler.
func NewSourceHandler(base *BaseHandler, svc *app.Services) *SourceHandler {
	return &SourceHandler{BaseHandler: base, svc: svc}
}

// List returns every configured source.
// GET /api/v1/sources
func (h *SourceHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	records := h.svc.Stores.Records

	ids := make([]string, 0, len(h.svc.Config.Sources))
	for id := range h.svc.Config.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make([]dto.SourceResponse, 0, len(ids))
	for _, id := range ids {
		src := h.svc.Config.Sources[id]
		scope := []string{id}

		total, err := records.CountRecords(ctx, dedup.RecordFilter{SourceIDs: scope})
		if err != nil {
			h.Error(c, err)
			return
		}
		flagged, err := records.CountRecords(ctx, dedup.RecordFilter{SourceIDs: scope, UpdateNeeded: true, IncludeDeleted: true})
		if err != nil {
			h.Error(c, err)
			return
		}
		clustered, err := records.CountRecords(ctx, dedup.RecordFilter{SourceIDs: scope, Clustered: true})
		if err != nil {
			h.Error(c, err)
			return
		}

		items = append(items, dto.SourceResponse{
			ID:           id,
			Format:       src.Format,
			Dedup:        src.Dedup,
			HostSources:  h.svc.Config.HostSourcesFor(id),
			Records:      total,
			UpdateNeeded: flagged,
			Clustered:    clustered,
		})
	}
	h.OK(c, dto.NewListResponse(items))
}
