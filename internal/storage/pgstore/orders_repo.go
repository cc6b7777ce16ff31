package pgstore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const orderColumns = `
  o.id, o.order_number, o.shopify_order_number, o.customer_name, o.status,
  o.courier_code, o.tracking_id, o.shipping_address, o.cod_amount::text,
  o.outlet_id, o.tags,
  o.dispatched_at, o.delivered_at, o.returned_at, o.last_verified_at,
  o.created_at, o.updated_at`

func terminalOrderStatuses() []string {
	return []string{
		string(models.OrderStatusDelivered),
		string(models.OrderStatusReturned),
		string(models.OrderStatusCancelled),
	}
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	var addr []byte
	var cod string
	if err := row.Scan(
		&o.ID, &o.OrderNumber, &o.ShopifyOrderNumber, &o.CustomerName, &o.Status,
		&o.CourierCode, &o.TrackingID, &addr, &cod,
		&o.OutletID, &o.Tags,
		&o.DispatchedAt, &o.DeliveredAt, &o.ReturnedAt, &o.LastVerifiedAt,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan order")
	}
	if len(addr) > 0 {
		if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
			return nil, errors.Wrap(err, "decode shipping address")
		}
	}
	d, err := decimal.NewFromString(cod)
	if err != nil {
		return nil, errors.Wrap(err, "parse cod amount")
	}
	o.CODAmount = d
	return &o, nil
}

func (s *Storage) loadItems(ctx context.Context, q querier, orders ...*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	byID := make(map[string]*models.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		byID[o.ID] = o
	}
	rows, err := q.Query(ctx, `
SELECT id, order_id, product_id, name, quantity
FROM order_items
WHERE order_id = ANY($1)
ORDER BY id
`, ids)
	if err != nil {
		return errors.Wrap(err, "select order items")
	}
	defer rows.Close()

	for rows.Next() {
		var it models.LineItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.Quantity); err != nil {
			return errors.Wrap(err, "scan order item")
		}
		if o := byID[it.OrderID]; o != nil {
			o.Items = append(o.Items, it)
		}
	}
	return errors.Wrap(rows.Err(), "rows")
}

func (s *Storage) queryOneOrder(ctx context.Context, where string, args ...any) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders o `+where, args...))
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, s.db, o); err != nil {
		return nil, err
	}
	return o, nil
}

// CreateOrder inserts an order with its items. Used by seeding and integration flows.
func (s *Storage) CreateOrder(ctx context.Context, o *models.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = models.OrderStatusPending
	}
	if o.Tags == nil {
		o.Tags = []string{}
	}
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return errors.Wrap(err, "encode shipping address")
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO orders (
  id, order_number, shopify_order_number, customer_name, status,
  courier_code, tracking_id, shipping_address, cod_amount, outlet_id, tags,
  dispatched_at, delivered_at, returned_at, last_verified_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::numeric,$10,$11,$12,$13,$14,$15,$16,$17)
`, o.ID, o.OrderNumber, o.ShopifyOrderNumber, o.CustomerName, o.Status,
			o.CourierCode, o.TrackingID, addr, o.CODAmount.String(), o.OutletID, o.Tags,
			o.DispatchedAt, o.DeliveredAt, o.ReturnedAt, o.LastVerifiedAt, o.CreatedAt, o.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return storage.ErrConflict
			}
			return errors.Wrap(err, "insert order")
		}
		for i := range o.Items {
			it := &o.Items[i]
			it.OrderID = o.ID
			if err := tx.QueryRow(ctx, `
INSERT INTO order_items (order_id, product_id, name, quantity)
VALUES ($1,$2,$3,$4)
RETURNING id
`, it.OrderID, it.ProductID, it.Name, it.Quantity).Scan(&it.ID); err != nil {
				return errors.Wrap(err, "insert order item")
			}
		}
		if o.Status.Open() {
			return adjustReserved(ctx, tx, o, 1, now)
		}
		return nil
	})
}

func (s *Storage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.queryOneOrder(ctx, `WHERE o.id = $1`, id)
}

func (s *Storage) FindOrderByTrackingID(ctx context.Context, trackingID string) (*models.Order, error) {
	return s.queryOneOrder(ctx, `
WHERE o.tracking_id = $1
   OR o.id IN (SELECT d.order_id FROM dispatches d WHERE d.tracking_id = $1)
ORDER BY o.updated_at DESC
LIMIT 1`, trackingID)
}

func (s *Storage) FindOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	return s.queryOneOrder(ctx, `WHERE lower(o.order_number) = lower($1) LIMIT 1`, number)
}

// FindOrderFuzzy returns the newest order whose number contains fragment.
func (s *Storage) FindOrderFuzzy(ctx context.Context, fragment string) (*models.Order, error) {
	return s.queryOneOrder(ctx, `
WHERE o.order_number ILIKE '%' || $1 || '%' ESCAPE '\'
ORDER BY o.created_at DESC
LIMIT 1`, escapeLike(fragment))
}

func (s *Storage) FindOrderByShopifyNumber(ctx context.Context, number string) (*models.Order, error) {
	n := strings.TrimPrefix(number, "#")
	return s.queryOneOrder(ctx, `
WHERE o.shopify_order_number = $1 OR o.shopify_order_number = '#' || $1
ORDER BY o.created_at DESC
LIMIT 1`, n)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *Storage) lockOrder(ctx context.Context, tx pgx.Tx, id string) (*models.Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, tx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// writeStatus validates and persists a status change of a locked order, keeping reserved
// stock in step when the order enters or leaves the open set.
func writeStatus(ctx context.Context, tx pgx.Tx, o *models.Order, to models.OrderStatus, mode models.TransitionMode, at time.Time) (models.StatusChange, error) {
	change := models.StatusChange{OrderID: o.ID, OrderNumber: o.OrderNumber, From: o.Status, To: o.Status, At: at}
	if err := models.CheckTransition(o.Status, to, mode); err != nil {
		return change, err
	}
	if o.Status == to {
		return change, nil
	}
	wasOpen := o.Status.Open()
	o.ApplyStatus(to, at)
	if mode == models.TransitionDriftCorrection {
		o.DeliveredAt = nil
	}
	change.To = to

	if err := updateOrderRow(ctx, tx, o); err != nil {
		return change, err
	}
	switch {
	case wasOpen && !to.Open():
		return change, adjustReserved(ctx, tx, o, -1, at)
	case !wasOpen && to.Open():
		return change, adjustReserved(ctx, tx, o, 1, at)
	}
	return change, nil
}

func updateOrderRow(ctx context.Context, q querier, o *models.Order) error {
	_, err := q.Exec(ctx, `
UPDATE orders SET
  status = $2, courier_code = $3, tracking_id = $4, tags = $5,
  dispatched_at = $6, delivered_at = $7, returned_at = $8, last_verified_at = $9,
  updated_at = $10
WHERE id = $1
`, o.ID, o.Status, o.CourierCode, o.TrackingID, o.Tags,
		o.DispatchedAt, o.DeliveredAt, o.ReturnedAt, o.LastVerifiedAt, o.UpdatedAt)
	return errors.Wrap(err, "update order")
}

func (s *Storage) UpdateOrderStatus(ctx context.Context, upd storage.StatusUpdate) (models.StatusChange, error) {
	var change models.StatusChange
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		o, err := s.lockOrder(ctx, tx, upd.OrderID)
		if err != nil {
			return err
		}
		change, err = writeStatus(ctx, tx, o, upd.To, models.TransitionForward, upd.At.UTC())
		return err
	})
	return change, err
}

func (s *Storage) MarkBooked(ctx context.Context, upd storage.BookedUpdate) (models.StatusChange, error) {
	var change models.StatusChange
	at := upd.At.UTC()
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		o, err := s.lockOrder(ctx, tx, upd.OrderID)
		if err != nil {
			return err
		}
		o.CourierCode = &upd.CourierCode
		o.TrackingID = &upd.TrackingID
		o.UpdatedAt = at

		// заказ мог уйти дальше booked, пока шла попытка: статус тогда не трогаем
		target := models.OrderStatusBooked
		if models.CheckTransition(o.Status, target, models.TransitionForward) != nil {
			target = o.Status
		}
		change, err = writeStatus(ctx, tx, o, target, models.TransitionForward, at)
		if err != nil {
			return err
		}
		if !change.Changed() {
			if err := updateOrderRow(ctx, tx, o); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `
UPDATE dispatches SET
  tracking_id = $2, courier_code = $3, manual = FALSE, last_response = $4, updated_at = $5
WHERE order_id = $1
`, o.ID, upd.TrackingID, upd.CourierCode, nullJSON(upd.Raw), at); err != nil {
			return errors.Wrap(err, "update dispatch tracking")
		}
		if _, err := tx.Exec(ctx, `
UPDATE courier_booking_queue SET status = $2, updated_at = $3
WHERE order_id = $1 AND status IN ('pending', 'retrying')
`, o.ID, models.QueueStatusSuccess, at); err != nil {
			return errors.Wrap(err, "close booking queue")
		}
		return nil
	})
	return change, err
}

// ListUnverifiedDelivered returns delivered orders not verified since cutoff, oldest verified first.
func (s *Storage) ListUnverifiedDelivered(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+orderColumns+`
FROM orders o
WHERE o.status = $1
  AND (o.last_verified_at IS NULL OR o.last_verified_at < $2)
ORDER BY o.last_verified_at ASC NULLS FIRST, o.delivered_at ASC NULLS FIRST, o.id
LIMIT $3
`, models.OrderStatusDelivered, cutoff.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select delivered orders")
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CountUnverifiedDelivered(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
SELECT count(*)
FROM orders
WHERE status = $1 AND (last_verified_at IS NULL OR last_verified_at < $2)
`, models.OrderStatusDelivered, cutoff.UTC()).Scan(&n)
	return n, errors.Wrap(err, "count delivered orders")
}

func (s *Storage) MarkVerified(ctx context.Context, orderID string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE orders SET last_verified_at = $2 WHERE id = $1`, orderID, at.UTC())
	if err != nil {
		return errors.Wrap(err, "mark verified")
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DowngradeOrder applies a drift correction and its activity log row atomically. It returns
// storage.ErrConflict when the order is no longer in d.From.
func (s *Storage) DowngradeOrder(ctx context.Context, d storage.Downgrade) (models.StatusChange, error) {
	var change models.StatusChange
	at := d.At.UTC()
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		o, err := s.lockOrder(ctx, tx, d.OrderID)
		if err != nil {
			return err
		}
		if o.Status != d.From {
			return storage.ErrConflict
		}
		o.LastVerifiedAt = &at
		change, err = writeStatus(ctx, tx, o, d.To, models.TransitionDriftCorrection, at)
		if err != nil {
			return err
		}
		change.Reason = d.Reason

		details, err := json.Marshal(map[string]any{
			"previous_status": d.From,
			"new_status":      d.To,
			"courier":         d.CourierCode,
			"courier_status":  d.RawStatus,
		})
		if err != nil {
			return errors.Wrap(err, "encode details")
		}
		return insertActivity(ctx, tx, models.ActivityLog{
			EntityType: models.EntityOrder,
			EntityID:   o.ID,
			Action:     models.ActionStatusDowngraded,
			Reason:     d.Reason,
			Details:    details,
			CreatedAt:  at,
		})
	})
	return change, err
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
