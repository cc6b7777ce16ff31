package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/CourierSync/internal/integrations/courier"
)

// Client - детерминированный курьер для локального запуска и тестов.
// Без переопределений часть треков становится delivered/returned по хэшу номера.
type Client struct {
	code string

	mu       sync.Mutex
	statuses map[string]string
	trackErr map[string]error
	bookErrs []error
	booked   []courier.BookingRequest
	tracked  int
}

func New(code string) *Client {
	if code == "" {
		code = "fake"
	}
	return &Client{
		code:     code,
		statuses: make(map[string]string),
		trackErr: make(map[string]error),
	}
}

func (f *Client) Code() string { return f.code }

// SetStatus pins the raw status returned for trackingID.
func (f *Client) SetStatus(trackingID, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[trackingID] = raw
}

func (f *Client) SetTrackError(trackingID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trackErr[trackingID] = err
}

// FailNextBookings queues errors returned by the following Book calls, one per call.
func (f *Client) FailNextBookings(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookErrs = append(f.bookErrs, errs...)
}

func (f *Client) Booked() []courier.BookingRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]courier.BookingRequest(nil), f.booked...)
}

func (f *Client) TrackCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracked
}

func (f *Client) Book(ctx context.Context, req courier.BookingRequest) (courier.BookingResult, error) {
	if err := ctx.Err(); err != nil {
		return courier.BookingResult{}, courier.Transport(f.code, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bookErrs) > 0 {
		err := f.bookErrs[0]
		f.bookErrs = f.bookErrs[1:]
		if err != nil {
			return courier.BookingResult{}, err
		}
	}
	f.booked = append(f.booked, req)
	id := fmt.Sprintf("%s%08d", strings.ToUpper(f.code[:min(2, len(f.code))]), hash(f.code, req.OrderNumber)%100000000)
	raw, _ := json.Marshal(map[string]string{"tracking_number": id})
	return courier.BookingResult{TrackingID: id, Raw: raw}, nil
}

func (f *Client) Track(ctx context.Context, trackingID string) (courier.TrackingResult, error) {
	if err := ctx.Err(); err != nil {
		return courier.TrackingResult{}, courier.Transport(f.code, err)
	}
	f.mu.Lock()
	f.tracked++
	raw, pinned := f.statuses[trackingID]
	err := f.trackErr[trackingID]
	f.mu.Unlock()
	if err != nil {
		return courier.TrackingResult{}, err
	}

	if !pinned {
		// 20% доставлено, ~10% возвращено
		v := hash(f.code, trackingID)
		switch {
		case v%5 == 0:
			raw = "Delivered"
		case v%10 == 1:
			raw = "Returned to shipper"
		default:
			raw = "In Transit"
		}
	}
	body, _ := json.Marshal(map[string]string{"tracking_number": trackingID, "status": raw})
	return courier.TrackingResult{
		RawStatus: raw,
		Status:    courier.Normalize(raw, nil),
		CheckedAt: time.Now().UTC(),
		Raw:       body,
	}, nil
}

func hash(parts ...string) uint32 {
	h := fnv.New32a()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte("|"))
		}
		_, _ = h.Write([]byte(p))
	}
	return h.Sum32()
}
