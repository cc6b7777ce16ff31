package booking

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/BearBump/CourierSync/internal/apperr"
	"github.com/BearBump/CourierSync/internal/broker/messages"
)

// HandleBookingRequested consumes a courier.booking.requested message. Only internal errors are
// returned so the message is redelivered; bad input is logged and committed.
func (s *Service) HandleBookingRequested(ctx context.Context, key, value []byte) error {
	var msg messages.BookingRequested
	if err := json.Unmarshal(value, &msg); err != nil {
		slog.Error("bad booking message", "key", string(key), "error", err.Error())
		return nil
	}

	res, err := s.Book(ctx, Request{
		OrderID:   msg.OrderID,
		CourierID: msg.CourierID,
		Weight:    msg.Weight,
		Pieces:    msg.Pieces,
		CODAmount: msg.CODAmount,
	})
	if err != nil {
		if ae := apperr.As(err); ae.Kind != apperr.KindInternal {
			slog.Warn("booking request skipped", "order_id", msg.OrderID, "code", ae.Code, "error", ae.Message)
			return nil
		}
		return err
	}
	if !res.Success {
		slog.Info("booking request queued", "order_id", msg.OrderID, "code", res.ErrorCode, "queued", res.Queued)
	}
	return nil
}
