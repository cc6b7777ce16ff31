package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const returnColumns = `id, order_id, courier_code, tracking_id, return_status, received_at, received_by, created_at, updated_at`

func scanReturn(row pgx.Row) (*models.ReturnRecord, error) {
	var r models.ReturnRecord
	if err := row.Scan(&r.ID, &r.OrderID, &r.CourierCode, &r.TrackingID, &r.ReturnStatus,
		&r.ReceivedAt, &r.ReceivedBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan return")
	}
	return &r, nil
}

// openReturn records a courier-reported return; an existing record is left as is.
func openReturn(ctx context.Context, q querier, orderID, courierCode, trackingID string, at time.Time) error {
	_, err := q.Exec(ctx, `
INSERT INTO courier_returns (id, order_id, courier_code, tracking_id, return_status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (order_id) DO NOTHING
`, uuid.NewString(), orderID, courierCode, trackingID, models.ReturnStatusInTransit, at)
	return errors.Wrap(err, "open return")
}

func (s *Storage) GetReturnByOrderID(ctx context.Context, orderID string) (*models.ReturnRecord, error) {
	return scanReturn(s.db.QueryRow(ctx, `SELECT `+returnColumns+` FROM courier_returns WHERE order_id = $1`, orderID))
}

// ReceiveReturn marks the return of an order received. The upsert only touches a record that is
// still in transit, so received_at/received_by are set once; otherwise storage.ErrConflict.
func (s *Storage) ReceiveReturn(ctx context.Context, in storage.ScanReturn) (*models.ReturnRecord, error) {
	at := in.At.UTC()
	var by *string
	if in.UserID != "" {
		by = &in.UserID
	}
	r, err := scanReturn(s.db.QueryRow(ctx, `
INSERT INTO courier_returns AS cr (id, order_id, courier_code, tracking_id, return_status, received_at, received_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$6,$6)
ON CONFLICT (order_id) DO UPDATE SET
  return_status = EXCLUDED.return_status,
  received_at = EXCLUDED.received_at,
  received_by = EXCLUDED.received_by,
  courier_code = COALESCE(cr.courier_code, EXCLUDED.courier_code),
  tracking_id = COALESCE(cr.tracking_id, EXCLUDED.tracking_id),
  updated_at = EXCLUDED.updated_at
WHERE cr.return_status = 'in_transit'
RETURNING `+returnColumns,
		uuid.NewString(), in.OrderID, in.CourierCode, in.TrackingID, models.ReturnStatusReceived, at, by))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, storage.ErrConflict
	}
	return r, err
}
