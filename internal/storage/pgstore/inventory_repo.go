package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// adjustReserved adds sign*quantity of the order's product-linked items to reserved stock.
// Orders without an outlet reserve at every outlet stocking the product.
func adjustReserved(ctx context.Context, q querier, o *models.Order, sign int64, at time.Time) error {
	_, err := q.Exec(ctx, `
UPDATE inventory inv SET
  reserved_quantity = GREATEST(inv.reserved_quantity + $3 * li.qty, 0),
  available_quantity = inv.quantity - GREATEST(inv.reserved_quantity + $3 * li.qty, 0),
  updated_at = $4
FROM (
  SELECT product_id, SUM(quantity) AS qty
  FROM order_items
  WHERE order_id = $1 AND product_id IS NOT NULL
  GROUP BY product_id
) li
WHERE inv.product_id = li.product_id
  AND ($2::text IS NULL OR inv.outlet_id = $2)
`, o.ID, o.OutletID, sign, at.UTC())
	return errors.Wrap(err, "adjust reserved")
}

func (s *Storage) UpsertInventory(ctx context.Context, r *models.InventoryRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.AvailableQuantity = r.Quantity - r.ReservedQuantity
	r.UpdatedAt = time.Now().UTC()
	err := s.db.QueryRow(ctx, `
INSERT INTO inventory (id, product_id, product_name, outlet_id, quantity, reserved_quantity, available_quantity, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (product_id, outlet_id) DO UPDATE SET
  product_name = EXCLUDED.product_name,
  quantity = EXCLUDED.quantity,
  reserved_quantity = EXCLUDED.reserved_quantity,
  available_quantity = EXCLUDED.available_quantity,
  updated_at = EXCLUDED.updated_at
RETURNING id
`, r.ID, r.ProductID, r.ProductName, r.OutletID, r.Quantity, r.ReservedQuantity, r.AvailableQuantity, r.UpdatedAt).Scan(&r.ID)
	return errors.Wrap(err, "upsert inventory")
}

func (s *Storage) ListInventory(ctx context.Context) ([]*models.InventoryRecord, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, product_id, product_name, outlet_id, quantity, reserved_quantity, available_quantity, updated_at
FROM inventory
ORDER BY product_name, outlet_id
`)
	if err != nil {
		return nil, errors.Wrap(err, "select inventory")
	}
	defer rows.Close()

	var out []*models.InventoryRecord
	for rows.Next() {
		var r models.InventoryRecord
		if err := rows.Scan(&r.ID, &r.ProductID, &r.ProductName, &r.OutletID,
			&r.Quantity, &r.ReservedQuantity, &r.AvailableQuantity, &r.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan inventory")
		}
		out = append(out, &r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ListOpenOrderItems returns line items of every order that still holds stock.
func (s *Storage) ListOpenOrderItems(ctx context.Context) ([]*models.OpenOrderItem, error) {
	rows, err := s.db.Query(ctx, `
SELECT o.id, o.order_number, o.outlet_id, li.product_id, li.name, li.quantity
FROM order_items li
JOIN orders o ON o.id = li.order_id
WHERE o.status <> ALL($1)
ORDER BY o.id, li.id
`, terminalOrderStatuses())
	if err != nil {
		return nil, errors.Wrap(err, "select open order items")
	}
	defer rows.Close()

	var out []*models.OpenOrderItem
	for rows.Next() {
		var it models.OpenOrderItem
		if err := rows.Scan(&it.OrderID, &it.OrderNumber, &it.OutletID, &it.ProductID, &it.Name, &it.Quantity); err != nil {
			return nil, errors.Wrap(err, "scan open order item")
		}
		out = append(out, &it)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// FixReserved is a compare-and-set on reserved_quantity plus an audit row.
func (s *Storage) FixReserved(ctx context.Context, fix storage.ReservedFix) (*models.InventoryRecord, error) {
	at := fix.At.UTC()
	var r models.InventoryRecord
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
UPDATE inventory SET
  reserved_quantity = $3,
  available_quantity = quantity - $3,
  updated_at = $4
WHERE id = $1 AND reserved_quantity = $2
RETURNING id, product_id, product_name, outlet_id, quantity, reserved_quantity, available_quantity, updated_at
`, fix.InventoryID, fix.Old, fix.New, at).Scan(&r.ID, &r.ProductID, &r.ProductName, &r.OutletID,
			&r.Quantity, &r.ReservedQuantity, &r.AvailableQuantity, &r.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storage.ErrConflict
			}
			return errors.Wrap(err, "update reserved")
		}
		details, err := json.Marshal(map[string]any{
			"product_id":   r.ProductID,
			"product_name": r.ProductName,
			"outlet_id":    r.OutletID,
			"before":       fix.Old,
			"after":        fix.New,
		})
		if err != nil {
			return errors.Wrap(err, "encode details")
		}
		return insertActivity(ctx, tx, models.ActivityLog{
			EntityType: models.EntityInventory,
			EntityID:   r.ID,
			Action:     models.ActionReservedFixed,
			Reason:     models.ReasonReservedDrift,
			Details:    details,
			CreatedAt:  at,
		})
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}
