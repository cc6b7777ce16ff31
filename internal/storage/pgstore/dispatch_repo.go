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

const dispatchColumns = `
  id, order_id, courier_code, tracking_id, status, manual, last_response,
  dispatched_by, dispatched_at, last_checked_at, updated_at`

func scanDispatch(row pgx.Row) (*models.Dispatch, error) {
	var d models.Dispatch
	var raw []byte
	if err := row.Scan(
		&d.ID, &d.OrderID, &d.CourierCode, &d.TrackingID, &d.Status, &d.Manual, &raw,
		&d.DispatchedBy, &d.DispatchedAt, &d.LastCheckedAt, &d.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan dispatch")
	}
	d.LastResponse = raw
	return &d, nil
}

func (s *Storage) GetDispatchByOrderID(ctx context.Context, orderID string) (*models.Dispatch, error) {
	return scanDispatch(s.db.QueryRow(ctx, `SELECT `+dispatchColumns+` FROM dispatches WHERE order_id = $1`, orderID))
}

func (s *Storage) GetDispatchByTrackingID(ctx context.Context, trackingID string) (*models.Dispatch, error) {
	return scanDispatch(s.db.QueryRow(ctx, `
SELECT `+dispatchColumns+`
FROM dispatches
WHERE tracking_id = $1
ORDER BY dispatched_at DESC
LIMIT 1`, trackingID))
}

// ListActiveDispatches pages over non-terminal dispatches that carry a tracking id.
func (s *Storage) ListActiveDispatches(ctx context.Context, offset, limit int) ([]*models.Dispatch, error) {
	if offset < 0 {
		offset = 0
	}
	terminal := make([]string, 0, len(models.TerminalShipmentStatuses))
	for _, st := range models.TerminalShipmentStatuses {
		terminal = append(terminal, string(st))
	}
	rows, err := s.db.Query(ctx, `
SELECT `+dispatchColumns+`
FROM dispatches
WHERE tracking_id IS NOT NULL
  AND status <> ALL($1)
ORDER BY dispatched_at ASC, id ASC
LIMIT $2 OFFSET $3
`, terminal, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select active dispatches")
	}
	defer rows.Close()

	var out []*models.Dispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// CreateScanDispatch inserts the dispatch record of a scanned order. A second dispatch for the
// same order returns storage.ErrConflict and writes nothing.
func (s *Storage) CreateScanDispatch(ctx context.Context, in storage.ScanDispatch) (*models.Dispatch, error) {
	at := in.At.UTC()
	d := &models.Dispatch{
		ID:           uuid.NewString(),
		OrderID:      in.OrderID,
		CourierCode:  in.CourierCode,
		TrackingID:   in.TrackingID,
		Status:       models.ShipmentStatusBooked,
		Manual:       in.TrackingID == nil,
		DispatchedAt: at,
		UpdatedAt:    at,
	}
	if in.UserID != "" {
		u := in.UserID
		d.DispatchedBy = &u
	}
	row := s.db.QueryRow(ctx, `
INSERT INTO dispatches (id, order_id, courier_code, tracking_id, status, manual, dispatched_by, dispatched_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
ON CONFLICT (order_id) DO NOTHING
RETURNING id
`, d.ID, d.OrderID, d.CourierCode, d.TrackingID, d.Status, d.Manual, d.DispatchedBy, at)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrConflict
		}
		return nil, errors.Wrap(err, "insert dispatch")
	}
	return d, nil
}

// RecordTracking appends a history row and applies the polled status to the dispatch and,
// for delivered/returned, to the parent order.
func (s *Storage) RecordTracking(ctx context.Context, upd storage.TrackingUpdate) (models.StatusChange, error) {
	var change models.StatusChange
	res := upd.Result
	checkedAt := res.CheckedAt.UTC()
	if res.CheckedAt.IsZero() {
		checkedAt = time.Now().UTC()
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO courier_tracking_history (tracking_id, courier_code, status, raw_status, current_location, raw_response, checked_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, upd.TrackingID, upd.CourierCode, res.Status, res.RawStatus, res.Location, nullJSON(res.Raw), checkedAt); err != nil {
			return errors.Wrap(err, "insert tracking history")
		}

		tag, err := tx.Exec(ctx, `
UPDATE dispatches SET status = $2, last_response = $3, last_checked_at = $4, updated_at = $4
WHERE id = $1
`, upd.DispatchID, res.Status, nullJSON(res.Raw), checkedAt)
		if err != nil {
			return errors.Wrap(err, "update dispatch status")
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}

		target, ok := models.OrderStatusFor(res.Status)
		if !ok {
			return nil
		}
		o, err := s.lockOrder(ctx, tx, upd.OrderID)
		if err != nil {
			return err
		}
		if models.CheckTransition(o.Status, target, models.TransitionForward) == nil {
			change, err = writeStatus(ctx, tx, o, target, models.TransitionForward, checkedAt)
			if err != nil {
				return err
			}
		} else {
			change = models.StatusChange{OrderID: o.ID, OrderNumber: o.OrderNumber, From: o.Status, To: o.Status, At: checkedAt}
		}

		if target == models.OrderStatusReturned {
			return openReturn(ctx, tx, o.ID, upd.CourierCode, upd.TrackingID, checkedAt)
		}
		return nil
	})
	return change, err
}

func (s *Storage) ListTrackingHistory(ctx context.Context, trackingID string, limit, offset int) ([]*models.TrackingHistory, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `
SELECT id, tracking_id, courier_code, status, raw_status, current_location, raw_response, checked_at
FROM courier_tracking_history
WHERE tracking_id = $1
ORDER BY checked_at DESC, id DESC
LIMIT $2 OFFSET $3
`, trackingID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select tracking history")
	}
	defer rows.Close()

	var out []*models.TrackingHistory
	for rows.Next() {
		var h models.TrackingHistory
		var raw []byte
		if err := rows.Scan(&h.ID, &h.TrackingID, &h.CourierCode, &h.Status, &h.RawStatus, &h.CurrentLocation, &raw, &h.CheckedAt); err != nil {
			return nil, errors.Wrap(err, "scan tracking history")
		}
		h.RawResponse = raw
		out = append(out, &h)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
