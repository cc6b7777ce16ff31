package settings

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	cachemocks "github.com/BearBump/CourierSync/internal/cache/mocks"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage/memstore"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fallback = models.Settings{
	PickupAddress:      models.Address{Name: "Warehouse", Line1: "Plot 4", City: "Lahore"},
	DefaultCourierCode: "leopards",
}

func TestProvider_FallbackWhenNothingStored(t *testing.T) {
	p := New(memstore.New(), nil, 0, fallback)

	st, err := p.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Lahore", st.PickupAddress.City)
	require.Equal(t, int64(1), st.KgPerUnit)
}

func TestProvider_StoredWinsOverFallback(t *testing.T) {
	store := memstore.New()
	p := New(store, nil, 0, fallback)
	require.NoError(t, p.Save(context.Background(), models.Settings{
		PickupAddress: models.Address{Line1: "Shop 12", City: "Karachi"},
		KgPerUnit:     2,
	}))

	st, err := p.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Karachi", st.PickupAddress.City)
	require.Equal(t, "leopards", st.DefaultCourierCode)
	require.Equal(t, int64(2), st.KgPerUnit)
}

func TestProvider_CacheHitSkipsStore(t *testing.T) {
	c := &cachemocks.MockBytesCache{}
	cached, _ := json.Marshal(models.Settings{DefaultCourierCode: "tcs", KgPerUnit: 3})
	c.On("Get", mock.Anything, cacheKey).Return(cached, true, nil).Once()

	p := New(failingRepo{}, c, time.Minute, fallback)
	st, err := p.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tcs", st.DefaultCourierCode)
	c.AssertExpectations(t)
}

func TestProvider_CacheMissWritesBack(t *testing.T) {
	c := &cachemocks.MockBytesCache{}
	c.On("Get", mock.Anything, cacheKey).Return(nil, false, nil).Once()
	c.On("Set", mock.Anything, cacheKey, mock.Anything, time.Minute).Return(nil).Once()

	p := New(memstore.New(), c, time.Minute, fallback)
	_, err := p.Get(context.Background())
	require.NoError(t, err)
	c.AssertExpectations(t)
}

func TestProvider_StoreError(t *testing.T) {
	p := New(failingRepo{}, nil, 0, fallback)
	_, err := p.Get(context.Background())
	require.Error(t, err)
}

type failingRepo struct{}

func (failingRepo) GetSettings(ctx context.Context) (*models.Settings, error) {
	return nil, errors.New("db down")
}

func (failingRepo) SaveSettings(ctx context.Context, st models.Settings) error {
	return errors.New("db down")
}
