package record

import "fmt"

// Consistency rules reported in Violation.Invariant:
//
//   - back_link: a record's dedup id names an active cluster that lists it
//   - membership: every listed member exists, is active and points back
//   - singleton: an active cluster has at least two members
//   - component_part: component parts are never clustered
//   - unique_member: a record is listed by at most one active cluster
const (
	RuleBackLink      = "back_link"
	RuleMembership    = "membership"
	RuleSingleton     = "singleton"
	RuleComponentPart = "component_part"
	RuleUniqueMember  = "unique_member"
)

// Violation describes one broken record/cluster invariant.
type Violation struct {
	Invariant string
	Subject   string
	Detail    string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s: %s", v.Invariant, v.Subject, v.Detail)
}

// CheckInvariants verifies the consistency rules over a full snapshot of records and
// clusters. It has no side effects.
func CheckInvariants(records []*Record, clusters []*DedupRecord) []Violation {
	recByID := make(map[string]*Record, len(records))
	for _, r := range records {
		recByID[r.ID] = r
	}
	clByID := make(map[string]*DedupRecord, len(clusters))
	for _, c := range clusters {
		clByID[c.ID] = c
	}

	var out []Violation
	add := func(inv, subject, format string, args ...any) {
		out = append(out, Violation{Invariant: inv, Subject: subject, Detail: fmt.Sprintf(format, args...)})
	}

	for _, r := range records {
		if r.DedupID == nil {
			continue
		}
		if r.IsComponentPart() {
			add(RuleComponentPart, r.ID, "component part linked to %s", *r.DedupID)
		}
		if r.Deleted {
			continue
		}
		c, ok := clByID[*r.DedupID]
		switch {
		case !ok:
			add(RuleBackLink, r.ID, "dedup record %s does not exist", *r.DedupID)
		case c.Deleted:
			add(RuleBackLink, r.ID, "dedup record %s is deleted", c.ID)
		case !c.Has(r.ID):
			add(RuleBackLink, r.ID, "dedup record %s does not list the record", c.ID)
		}
	}

	membership := make(map[string]string)
	for _, c := range clusters {
		for _, id := range c.IDs {
			r, ok := recByID[id]
			switch {
			case !ok:
				add(RuleMembership, c.ID, "member %s does not exist", id)
			case r.Deleted:
				add(RuleMembership, c.ID, "member %s is deleted", id)
			case r.Suppressed:
				add(RuleMembership, c.ID, "member %s is suppressed", id)
			case r.ClusterID() != c.ID:
				add(RuleMembership, c.ID, "member %s points to %q", id, r.ClusterID())
			}
			if c.Deleted {
				continue
			}
			if other, dup := membership[id]; dup {
				add(RuleUniqueMember, id, "listed by %s and %s", other, c.ID)
			}
			membership[id] = c.ID
		}
		if !c.Deleted && len(c.IDs) < 2 {
			add(RuleSingleton, c.ID, "%d member(s) but not deleted", len(c.IDs))
		}
	}
	return out
}
