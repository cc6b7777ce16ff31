package leopards

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/BearBump/CourierSync/internal/integrations/courier"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const base = "https://leopards.test"

func newMocked(t *testing.T) *Client {
	t.Helper()
	c := New(courier.AdapterConfig{Code: "leopards", BaseURL: base, APIKey: "k", APISecret: "p"})
	httpmock.ActivateNonDefault(c.httpc)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestClient_Book_OK(t *testing.T) {
	c := newMocked(t)
	httpmock.RegisterResponder(http.MethodPost, base+"/api/bookPacket/format/json/",
		func(r *http.Request) (*http.Response, error) {
			var body map[string]any
			require.NoError(t, jsonDecode(r, &body))
			require.Equal(t, "2000", body["booked_packet_weight"])
			require.Equal(t, "k", body["api_key"])
			return httpmock.NewStringResponse(200, `{"status":1,"error":0,"track_number":"LE7788"}`), nil
		})

	res, err := c.Book(context.Background(), courier.BookingRequest{
		OrderNumber: "ORD-9",
		Weight:      decimal.NewFromInt(2),
		Pieces:      2,
		COD:         decimal.RequireFromString("999.50"),
	})
	require.NoError(t, err)
	require.Equal(t, "LE7788", res.TrackingID)
	require.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestClient_Book_Rejected(t *testing.T) {
	c := newMocked(t)
	httpmock.RegisterResponder(http.MethodPost, base+"/api/bookPacket/format/json/",
		httpmock.NewStringResponder(200, `{"status":0,"error":{"destination_city":["invalid city"]}}`))

	_, err := c.Book(context.Background(), courier.BookingRequest{})
	require.Error(t, err)
	require.Equal(t, courier.ClassValidation, courier.Classify(err))
	require.Contains(t, err.Error(), "invalid city")
}

func TestClient_Track_OK(t *testing.T) {
	c := newMocked(t)
	httpmock.RegisterResponder(http.MethodGet, base+"/api/trackBookedPacket/format/json/",
		func(r *http.Request) (*http.Response, error) {
			require.Equal(t, "LE1", r.URL.Query().Get("track_numbers"))
			require.Equal(t, "p", r.URL.Query().Get("api_password"))
			return httpmock.NewStringResponse(200, `{"status":1,"error":0,"packet_list":[{"track_number":"LE1","booked_packet_status":"Being Return","Tracking Detail":[{"Status":"Arrived","Reciever_Name":"Lahore"}]}]}`), nil
		})

	res, err := c.Track(context.Background(), "LE1")
	require.NoError(t, err)
	require.Equal(t, "Being Return", res.RawStatus)
	require.Equal(t, models.ShipmentStatusReturned, res.Status)
	require.Equal(t, "Lahore", *res.Location)
}

func TestClient_Track_ServerError(t *testing.T) {
	c := newMocked(t)
	httpmock.RegisterResponder(http.MethodGet, base+"/api/trackBookedPacket/format/json/",
		httpmock.NewStringResponder(502, "bad gateway"))

	_, err := c.Track(context.Background(), "LE1")
	require.Error(t, err)
	require.Equal(t, courier.ClassRetryable, courier.Classify(err))
}

func jsonDecode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
