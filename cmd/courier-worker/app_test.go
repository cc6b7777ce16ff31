package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/CourierSync/config"
	"github.com/BearBump/CourierSync/internal/app"
	"github.com/BearBump/CourierSync/internal/broker/messages"
	"github.com/BearBump/CourierSync/internal/integrations/courier/fake"
	"github.com/BearBump/CourierSync/internal/integrations/courier/registry"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/BearBump/CourierSync/internal/storage/memstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// chanConsumer feeds queued messages to the handler, then blocks until ctx is done.
type chanConsumer struct {
	msgs   chan []byte
	closed atomic.Bool
}

func (c *chanConsumer) Consume(ctx context.Context, handler func(ctx context.Context, key, value []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-c.msgs:
			if err := handler(ctx, nil, m); err != nil {
				return err
			}
		}
	}
}

func (c *chanConsumer) Close() error {
	c.closed.Store(true)
	return nil
}

func memoryFactories(st *memstore.Store, cons *chanConsumer) workerFactories {
	return workerFactories{
		infra: app.Factories{
			NewStorage: func(ctx context.Context, cfg *config.Config) (storage.Store, error) { return st, nil },
			NewRedis:   func(cfg *config.Config) redis.UniversalClient { return nil },
			NewCouriers: func(cfg *config.Config) (*registry.Registry, error) {
				r := registry.New(nil)
				r.Register(fake.New("leopards"))
				return r, nil
			},
		},
		newConsumer: func(cfg *config.Config) bookingConsumer { return cons },
	}
}

func workerConfig() *config.Config {
	return &config.Config{CourierSync: config.CourierSyncConfig{
		StorageMode:               config.StorageModeMemory,
		WorkerHTTPAddr:            "127.0.0.1:0",
		WorkerPollIntervalSeconds: 3600,
		PickupAddress:             config.PickupConfig{Name: "Warehouse", Line1: "Plot 4", City: "Lahore"},
	}}
}

func TestDefaultWorkerFactories_ConsumerOnlyWithKafka(t *testing.T) {
	f := defaultWorkerFactories()
	require.Nil(t, f.newConsumer(&config.Config{}))
	c := f.newConsumer(&config.Config{Kafka: config.KafkaConfig{Host: "localhost", Port: 9092}})
	require.NotNil(t, c)
	_ = c.Close()
}

func TestRunCourierWorker_ContextCanceled(t *testing.T) {
	cons := &chanConsumer{msgs: make(chan []byte)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunCourierWorker(ctx, workerConfig(), memoryFactories(memstore.New(), cons), workerOpts{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunCourierWorker_OpsAndBookingConsumer(t *testing.T) {
	st := memstore.New()
	o := &models.Order{
		OrderNumber:     "SHOP-2001",
		CustomerName:    "Bilal Ahmed",
		Status:          models.OrderStatusAddressConfirmed,
		ShippingAddress: models.Address{Phone: "03111234567", Line1: "Street 9", City: "Multan"},
		Items:           []models.LineItem{{Name: "Lamp", Quantity: 1}},
	}
	require.NoError(t, st.CreateOrder(context.Background(), o))

	cons := &chanConsumer{msgs: make(chan []byte, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- RunCourierWorker(ctx, workerConfig(), memoryFactories(st, cons), workerOpts{
			onListen: func(addr string) { addrCh <- addr },
		})
	}()
	base := "http://" + <-addrCh

	resp, err := http.Get(base + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(base+"/trigger/"+app.JobReservedStock, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(base+"/trigger/nope", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(base+"/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var stats struct {
		Jobs []struct {
			Name string `json:"name"`
			Runs int64  `json:"runs"`
		} `json:"jobs"`
	}
	resp, err = http.Get(base + "/stats")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	require.Len(t, stats.Jobs, 4)

	msg, _ := json.Marshal(messages.BookingRequested{OrderID: o.ID, CourierID: "leopards"})
	cons.msgs <- msg
	require.Eventually(t, func() bool {
		got, err := st.GetOrder(context.Background(), o.ID)
		return err == nil && got.Status == models.OrderStatusBooked
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting worker to stop")
	}
	require.True(t, cons.closed.Load())
}
