package storage

import (
	"context"
	"time"

	"github.com/BearBump/CourierSync/internal/models"
)

// Store is the full persistence surface; pgstore and memstore both implement it.
type Store interface {
	Ping(ctx context.Context) error
	Close()

	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	FindOrderByTrackingID(ctx context.Context, trackingID string) (*models.Order, error)
	FindOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	FindOrderFuzzy(ctx context.Context, fragment string) (*models.Order, error)
	FindOrderByShopifyNumber(ctx context.Context, number string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, upd StatusUpdate) (models.StatusChange, error)
	MarkBooked(ctx context.Context, upd BookedUpdate) (models.StatusChange, error)

	ListUnverifiedDelivered(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error)
	CountUnverifiedDelivered(ctx context.Context, cutoff time.Time) (int, error)
	MarkVerified(ctx context.Context, orderID string, at time.Time) error
	DowngradeOrder(ctx context.Context, d Downgrade) (models.StatusChange, error)

	EnqueueBooking(ctx context.Context, e *models.BookingQueueEntry) (*models.BookingQueueEntry, error)
	ClaimDueBookings(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.BookingQueueEntry, error)
	AcquireBooking(ctx context.Context, id string, held, until time.Time) error
	SaveBookingAttempt(ctx context.Context, e *models.BookingQueueEntry, prev QueueGuard) error
	ListBookingQueue(ctx context.Context, orderID string) ([]*models.BookingQueueEntry, error)

	GetDispatchByOrderID(ctx context.Context, orderID string) (*models.Dispatch, error)
	GetDispatchByTrackingID(ctx context.Context, trackingID string) (*models.Dispatch, error)
	ListActiveDispatches(ctx context.Context, offset, limit int) ([]*models.Dispatch, error)
	CreateScanDispatch(ctx context.Context, in ScanDispatch) (*models.Dispatch, error)
	RecordTracking(ctx context.Context, upd TrackingUpdate) (models.StatusChange, error)
	ListTrackingHistory(ctx context.Context, trackingID string, limit, offset int) ([]*models.TrackingHistory, error)

	GetReturnByOrderID(ctx context.Context, orderID string) (*models.ReturnRecord, error)
	ReceiveReturn(ctx context.Context, in ScanReturn) (*models.ReturnRecord, error)

	UpsertInventory(ctx context.Context, r *models.InventoryRecord) error
	ListInventory(ctx context.Context) ([]*models.InventoryRecord, error)
	ListOpenOrderItems(ctx context.Context) ([]*models.OpenOrderItem, error)
	FixReserved(ctx context.Context, fix ReservedFix) (*models.InventoryRecord, error)
	ListActivity(ctx context.Context, entityType, entityID string) ([]*models.ActivityLog, error)

	GetSettings(ctx context.Context) (*models.Settings, error)
	SaveSettings(ctx context.Context, st models.Settings) error
}
