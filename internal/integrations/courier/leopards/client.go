package leopards

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/CourierSync/internal/integrations/courier"
	"github.com/pkg/errors"
)

// Client speaks the legacy Leopards-style API: credentials travel as api_key/api_password
// parameters and failures come back as 200 with status=0.
type Client struct {
	code      string
	baseURL   string
	apiKey    string
	apiSecret string
	statusMap map[string]string
	httpc     *http.Client
}

func New(cfg courier.AdapterConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://merchantapi.leopardscourier.com"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		code:      cfg.Code,
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		statusMap: cfg.Response.StatusMap,
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Code() string { return c.code }

type bookReq struct {
	APIKey           string `json:"api_key"`
	APIPassword      string `json:"api_password"`
	BookedPacketWt   string `json:"booked_packet_weight"` // grams
	NoOfPieces       int64  `json:"booked_packet_no_piece"`
	CollectAmount    string `json:"booked_packet_collect_amount"`
	OrderID          string `json:"booked_packet_order_id"`
	OriginCity       string `json:"origin_city"`
	DestinationCity  string `json:"destination_city"`
	ShipmentName     string `json:"shipment_name_eng"`
	ShipmentPhone    string `json:"shipment_phone"`
	ShipmentAddress  string `json:"shipment_address"`
	ConsigneeName    string `json:"consignment_name_eng"`
	ConsigneePhone   string `json:"consignment_phone"`
	ConsigneeAddress string `json:"consignment_address"`
}

type bookResp struct {
	Status      int    `json:"status"`
	Error       any    `json:"error"`
	TrackNumber string `json:"track_number"`
}

type trackResp struct {
	Status     int `json:"status"`
	Error      any `json:"error"`
	PacketList []struct {
		TrackNumber  string `json:"track_number"`
		BookedStatus string `json:"booked_packet_status"`
		Detail       []struct {
			Status   string `json:"Status"`
			Location string `json:"Reciever_Name"`
			Date     string `json:"Activity_datetime"`
		} `json:"Tracking Detail"`
	} `json:"packet_list"`
}

func (c *Client) Book(ctx context.Context, req courier.BookingRequest) (courier.BookingResult, error) {
	body, err := json.Marshal(bookReq{
		APIKey:           c.apiKey,
		APIPassword:      c.apiSecret,
		BookedPacketWt:   req.Weight.Shift(3).Round(0).String(),
		NoOfPieces:       req.Pieces,
		CollectAmount:    req.COD.Round(0).String(),
		OrderID:          req.OrderNumber,
		OriginCity:       req.Pickup.City,
		DestinationCity:  req.Delivery.City,
		ShipmentName:     req.Pickup.Name,
		ShipmentPhone:    req.Pickup.Phone,
		ShipmentAddress:  req.Pickup.Line1,
		ConsigneeName:    req.Delivery.Name,
		ConsigneePhone:   req.Delivery.Phone,
		ConsigneeAddress: strings.TrimSpace(req.Delivery.Line1 + " " + req.Delivery.Line2),
	})
	if err != nil {
		return courier.BookingResult{}, errors.Wrap(err, "marshal")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/bookPacket/format/json/", bytes.NewReader(body))
	if err != nil {
		return courier.BookingResult{}, errors.Wrap(err, "new request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	raw, err := c.do(httpReq)
	if err != nil {
		return courier.BookingResult{}, err
	}
	var r bookResp
	if err := json.Unmarshal(raw, &r); err != nil {
		return courier.BookingResult{}, errors.Wrap(err, "decode")
	}
	if r.Status != 1 || r.TrackNumber == "" {
		return courier.BookingResult{}, courier.Rejected(c.code, "", errorText(r.Error))
	}
	return courier.BookingResult{TrackingID: r.TrackNumber, Raw: raw}, nil
}

func (c *Client) Track(ctx context.Context, trackingID string) (courier.TrackingResult, error) {
	u, err := url.Parse(c.baseURL + "/api/trackBookedPacket/format/json/")
	if err != nil {
		return courier.TrackingResult{}, errors.Wrap(err, "parse base url")
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("api_password", c.apiSecret)
	q.Set("track_numbers", trackingID)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return courier.TrackingResult{}, errors.Wrap(err, "new request")
	}
	raw, err := c.do(httpReq)
	if err != nil {
		return courier.TrackingResult{}, err
	}
	var r trackResp
	if err := json.Unmarshal(raw, &r); err != nil {
		return courier.TrackingResult{}, errors.Wrap(err, "decode")
	}
	if r.Status != 1 || len(r.PacketList) == 0 {
		return courier.TrackingResult{}, &courier.Error{
			Courier: c.code,
			Class:   courier.ClassPermanent,
			Code:    "NOT_FOUND",
			Message: errorText(r.Error),
		}
	}

	p := r.PacketList[0]
	res := courier.TrackingResult{
		RawStatus: p.BookedStatus,
		CheckedAt: time.Now().UTC(),
		Raw:       raw,
	}
	if n := len(p.Detail); n > 0 {
		last := p.Detail[n-1]
		if res.RawStatus == "" {
			res.RawStatus = last.Status
		}
		if last.Location != "" {
			loc := last.Location
			res.Location = &loc
		}
	}
	res.Status = courier.Normalize(res.RawStatus, c.statusMap)
	return res, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, courier.Transport(c.code, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, courier.Transport(c.code, errors.Wrap(err, "read body"))
	}
	if resp.StatusCode/100 != 2 {
		return nil, courier.HTTPError(c.code, resp.StatusCode, string(b))
	}
	return b, nil
}

// error comes back either as a string or as a map of field errors.
func errorText(v any) string {
	switch t := v.(type) {
	case string:
		if t != "" && t != "0" {
			return t
		}
	case map[string]any:
		parts := make([]string, 0, len(t))
		for k, m := range t {
			parts = append(parts, k+": "+toString(m))
		}
		if len(parts) > 0 {
			return strings.Join(parts, "; ")
		}
	}
	return "rejected by courier"
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			out = append(out, toString(x))
		}
		return strings.Join(out, ", ")
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
