package store

import (
	"context"
	"fmt"

	"inss-case-tracker/internal/workqueue"
)

// QueueRules loads the routing table for the queue classifier. Inactive rows
// come along so admin tooling can list them; the classifier drops them.
func (s *Store) QueueRules(ctx context.Context) ([]workqueue.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT service_name, unit_code, queue_type, priority, active
		FROM queue_rules ORDER BY priority, service_name
	`)
	if err != nil {
		return nil, fmt.Errorf("query queue rules: %w", err)
	}
	defer rows.Close()

	var out []workqueue.Rule
	for rows.Next() {
		var r workqueue.Rule
		if err := rows.Scan(&r.ServiceName, &r.UnitCode, &r.QueueType, &r.Priority, &r.Active); err != nil {
			return nil, fmt.Errorf("scan queue rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExcludedServices loads service names whose tasks never go critical.
func (s *Store) ExcludedServices(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT service_name FROM excluded_services WHERE active`)
	if err != nil {
		return nil, fmt.Errorf("query excluded services: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan excluded service: %w", err)
		}
		out[name] = true
	}
	return out, rows.Err()
}
