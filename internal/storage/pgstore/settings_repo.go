package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const (
	settingPickupAddress  = "pickup_address"
	settingDefaultCourier = "default_courier_code"
	settingKgPerUnit      = "kg_per_unit"
)

// GetSettings assembles the settings struct from app_settings rows.
func (s *Storage) GetSettings(ctx context.Context) (*models.Settings, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value FROM app_settings WHERE key = ANY($1)`,
		[]string{settingPickupAddress, settingDefaultCourier, settingKgPerUnit})
	if err != nil {
		return nil, errors.Wrap(err, "select settings")
	}
	defer rows.Close()

	var out models.Settings
	found := 0
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrap(err, "scan setting")
		}
		var dst any
		switch key {
		case settingPickupAddress:
			dst = &out.PickupAddress
		case settingDefaultCourier:
			dst = &out.DefaultCourierCode
		case settingKgPerUnit:
			dst = &out.KgPerUnit
		}
		if err := json.Unmarshal(value, dst); err != nil {
			return nil, errors.Wrapf(err, "decode setting %s", key)
		}
		found++
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	if found == 0 {
		return nil, storage.ErrNotFound
	}
	return &out, nil
}

func (s *Storage) SaveSettings(ctx context.Context, st models.Settings) error {
	values := map[string]any{
		settingPickupAddress:  st.PickupAddress,
		settingDefaultCourier: st.DefaultCourierCode,
		settingKgPerUnit:      st.KgPerUnit,
	}
	now := time.Now().UTC()
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for k, v := range values {
			b, err := json.Marshal(v)
			if err != nil {
				return errors.Wrapf(err, "encode setting %s", k)
			}
			if _, err := tx.Exec(ctx, `
INSERT INTO app_settings (key, value, updated_at)
VALUES ($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
`, k, b, now); err != nil {
				return errors.Wrap(err, "upsert setting")
			}
		}
		return nil
	})
}
