package dedup

import (
	"context"
	"fmt"
	"time"

	"recordmanager/internal/config"
	"recordmanager/internal/domain/record"
	"recordmanager/pkg/logger"
)

// Propagator flags host records of changed component parts so the next
// incremental run re-evaluates them.
type Propagator struct {
	records RecordRepository
	cfg     config.Config
	log     *logger.Logger
	now     func() time.Time
}

// NewPropagator creates a propagator. Host sources are looked up in cfg.
func NewPropagator(records RecordRepository, cfg config.Config, log *logger.Logger) *Propagator {
	return &Propagator{
		records: records,
		cfg:     cfg,
		log:     log.WithComponent("propagator"),
		now:     time.Now,
	}
}

// MarkHostsForUpdate sets update_needed on every host of part and returns
// the number of hosts. Hosts already flagged are not rewritten.
func (p *Propagator) MarkHostsForUpdate(ctx context.Context, part *record.Record) (int, error) {
	if !part.IsComponentPart() {
		return 0, nil
	}

	filter := RecordFilter{
		SourceIDs:     p.cfg.HostSourcesFor(part.SourceID),
		LinkingIDs:    part.HostRecordIDs,
		HostLevelOnly: true,
	}

	var hosts []*record.Record
	err := p.records.FindRecords(ctx, filter, func(r *record.Record) (bool, error) {
		if r.ID != part.ID {
			hosts = append(hosts, r)
		}
		return true, nil
	})
	if err != nil {
		return 0, fmt.Errorf("find hosts of %s: %w", part.ID, err)
	}

	for _, h := range hosts {
		if h.UpdateNeeded {
			continue
		}
		h.UpdateNeeded = true
		h.Updated = p.now()
		if err := p.records.SaveRecord(ctx, h); err != nil {
			return 0, fmt.Errorf("flag host %s: %w", h.ID, err)
		}
		p.log.Debugw("host flagged for update", "record_id", h.ID, "component_part_id", part.ID)
	}
	return len(hosts), nil
}
