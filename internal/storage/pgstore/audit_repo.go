package pgstore

import (
	"context"

	"github.com/BearBump/CourierSync/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func insertActivity(ctx context.Context, q querier, a models.ActivityLog) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := q.Exec(ctx, `
INSERT INTO activity_log (id, entity_type, entity_id, action, reason, details, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, a.ID, a.EntityType, a.EntityID, a.Action, a.Reason, nullJSON(a.Details), a.CreatedAt.UTC())
	return errors.Wrap(err, "insert activity log")
}

func (s *Storage) ListActivity(ctx context.Context, entityType, entityID string) ([]*models.ActivityLog, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, entity_type, entity_id, action, reason, details, created_at
FROM activity_log
WHERE entity_type = $1 AND entity_id = $2
ORDER BY created_at DESC
`, entityType, entityID)
	if err != nil {
		return nil, errors.Wrap(err, "select activity log")
	}
	defer rows.Close()

	var out []*models.ActivityLog
	for rows.Next() {
		var a models.ActivityLog
		var details []byte
		if err := rows.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.Action, &a.Reason, &details, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan activity log")
		}
		a.Details = details
		out = append(out, &a)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
