package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL UNIQUE,
  shopify_order_number TEXT NULL,
  customer_name TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  courier_code TEXT NULL,
  tracking_id TEXT NULL,
  shipping_address JSONB NOT NULL DEFAULT '{}'::jsonb,
  cod_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
  outlet_id TEXT NULL,
  tags TEXT[] NOT NULL DEFAULT '{}',
  dispatched_at TIMESTAMPTZ NULL,
  delivered_at TIMESTAMPTZ NULL,
  returned_at TIMESTAMPTZ NULL,
  last_verified_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status_verified ON orders(status, last_verified_at)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_tracking_id ON orders(tracking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_shopify_number ON orders(shopify_order_number)`,
		`
CREATE TABLE IF NOT EXISTS order_items (
  id BIGSERIAL PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  product_id TEXT NULL,
  name TEXT NOT NULL,
  quantity BIGINT NOT NULL CHECK (quantity >= 0)
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_product_id ON order_items(product_id)`,
		`
CREATE TABLE IF NOT EXISTS dispatches (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  courier_code TEXT NOT NULL,
  tracking_id TEXT NULL,
  status TEXT NOT NULL,
  manual BOOLEAN NOT NULL DEFAULT FALSE,
  last_response JSONB NULL,
  dispatched_by TEXT NULL,
  dispatched_at TIMESTAMPTZ NOT NULL,
  last_checked_at TIMESTAMPTZ NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// одна отправка на заказ: на этом держится ALREADY_DISPATCHED
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_dispatches_order_id ON dispatches(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatches_tracking_id ON dispatches(tracking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatches_status ON dispatches(status)`,
		`
CREATE TABLE IF NOT EXISTS courier_booking_queue (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  courier_code TEXT NOT NULL,
  retry_count INT NOT NULL DEFAULT 0,
  max_retries INT NOT NULL DEFAULT 5,
  next_retry_at TIMESTAMPTZ NOT NULL,
  last_error_code TEXT NULL,
  last_error_message TEXT NULL,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  CHECK (retry_count >= 0 AND retry_count <= max_retries)
)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_queue_due ON courier_booking_queue(status, next_retry_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_booking_queue_open_order ON courier_booking_queue(order_id) WHERE status IN ('pending', 'retrying')`,
		`
CREATE TABLE IF NOT EXISTS courier_tracking_history (
  id BIGSERIAL PRIMARY KEY,
  tracking_id TEXT NOT NULL,
  courier_code TEXT NOT NULL,
  status TEXT NOT NULL,
  raw_status TEXT NOT NULL,
  current_location TEXT NULL,
  raw_response JSONB NULL,
  checked_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_history_tracking_checked ON courier_tracking_history(tracking_id, checked_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS inventory (
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL,
  product_name TEXT NOT NULL,
  outlet_id TEXT NOT NULL,
  quantity BIGINT NOT NULL DEFAULT 0,
  reserved_quantity BIGINT NOT NULL DEFAULT 0,
  available_quantity BIGINT NOT NULL DEFAULT 0,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (product_id, outlet_id)
)`,
		`
CREATE TABLE IF NOT EXISTS courier_returns (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE REFERENCES orders(id),
  courier_code TEXT NULL,
  tracking_id TEXT NULL,
  return_status TEXT NOT NULL,
  received_at TIMESTAMPTZ NULL,
  received_by TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS activity_log (
  id TEXT PRIMARY KEY,
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  action TEXT NOT NULL,
  reason TEXT NOT NULL,
  details JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_log_entity ON activity_log(entity_type, entity_id, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS app_settings (
  key TEXT PRIMARY KEY,
  value JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
