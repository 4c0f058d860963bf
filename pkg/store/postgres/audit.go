package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"bank-recon/pkg/audit"
)

var _ audit.Sink = (*Store)(nil)

// WriteEntry implements audit.Sink. Writing the same entry twice is a no-op.
func (s *Store) WriteEntry(ctx context.Context, e audit.Entry) error {
	var details []byte
	if len(e.Details) > 0 {
		var err error
		if details, err = json.Marshal(e.Details); err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, at, actor_id, actor_name, action, entity, entity_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.At, e.Actor.ID, e.Actor.Name, string(e.Action), e.Entity, e.EntityID, nullableJSON(details))
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
