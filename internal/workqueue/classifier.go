// Package workqueue routes tasks into work queues based on service name and
// unit code. Routing rules are admin-managed rows; the PGB unit override and
// the OUTROS fallback are fixed.
package workqueue

import (
	"sort"
	"strings"
)

// Fixed queue codes.
const (
	QueuePGB    = "PGB"
	QueueOthers = "OUTROS"
)

// Rule maps a service (optionally restricted to a unit) to a queue code.
// Lower priority values win when several rules match.
type Rule struct {
	ServiceName string
	UnitCode    *int
	QueueType   string
	Priority    int
	Active      bool
}

// RuleSet is the loaded routing table plus the PGB unit override.
type RuleSet struct {
	PGBUnitCode int
	rules       map[string][]Rule // keyed by normalized service name
}

// NewRuleSet indexes rules by service name. Inactive rules are dropped.
func NewRuleSet(pgbUnit int, rules []Rule) RuleSet {
	idx := make(map[string][]Rule)
	for _, r := range rules {
		if !r.Active {
			continue
		}
		k := normalize(r.ServiceName)
		idx[k] = append(idx[k], r)
	}
	for k := range idx {
		sort.SliceStable(idx[k], func(i, j int) bool {
			return idx[k][i].Priority < idx[k][j].Priority
		})
	}
	return RuleSet{PGBUnitCode: pgbUnit, rules: idx}
}

// Classify returns the queue code for a task. The PGB unit wins over any
// configured rule; otherwise the best rule for (service, unit) applies,
// falling back to service-only rules, then to OUTROS.
func (rs RuleSet) Classify(serviceName string, unitCode int) string {
	if rs.PGBUnitCode != 0 && unitCode == rs.PGBUnitCode {
		return QueuePGB
	}
	candidates := rs.rules[normalize(serviceName)]
	// Exact unit match first; rules are already priority-ordered.
	for _, r := range candidates {
		if r.UnitCode != nil && *r.UnitCode == unitCode {
			return r.QueueType
		}
	}
	for _, r := range candidates {
		if r.UnitCode == nil {
			return r.QueueType
		}
	}
	return QueueOthers
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
