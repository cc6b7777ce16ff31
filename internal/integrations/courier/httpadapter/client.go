package httpadapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/CourierSync/internal/integrations/courier"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Client talks to any courier whose API fits the AdapterConfig shape.
type Client struct {
	cfg   courier.AdapterConfig
	httpc *http.Client
	now   func() time.Time
}

func New(cfg courier.AdapterConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpc: &http.Client{
			Timeout: timeout,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (c *Client) Code() string { return c.cfg.Code }

func (c *Client) Book(ctx context.Context, req courier.BookingRequest) (courier.BookingResult, error) {
	body, err := json.Marshal(c.bookingBody(req))
	if err != nil {
		return courier.BookingResult{}, errors.Wrap(err, "marshal booking")
	}
	u, err := c.endpoint(c.cfg.Endpoints.Book, "")
	if err != nil {
		return courier.BookingResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return courier.BookingResult{}, errors.Wrap(err, "new request")
	}
	ct := c.cfg.Request.ContentType
	if ct == "" {
		ct = "application/json"
	}
	httpReq.Header.Set("Content-Type", ct)

	raw, data, err := c.do(httpReq)
	if err != nil {
		return courier.BookingResult{}, err
	}
	if err := c.checkSuccess(data); err != nil {
		return courier.BookingResult{}, err
	}
	trackingID := stringValue(getNestedValue(data, c.cfg.Response.TrackingIDField))
	if trackingID == "" {
		return courier.BookingResult{}, courier.Rejected(c.cfg.Code, "NO_TRACKING_ID", "courier response has no tracking id")
	}
	return courier.BookingResult{TrackingID: trackingID, Raw: raw}, nil
}

func (c *Client) Track(ctx context.Context, trackingID string) (courier.TrackingResult, error) {
	u, err := c.endpoint(c.cfg.Endpoints.Track, trackingID)
	if err != nil {
		return courier.TrackingResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return courier.TrackingResult{}, errors.Wrap(err, "new request")
	}

	raw, data, err := c.do(httpReq)
	if err != nil {
		return courier.TrackingResult{}, err
	}
	if err := c.checkSuccess(data); err != nil {
		return courier.TrackingResult{}, err
	}
	rawStatus := stringValue(getNestedValue(data, c.cfg.Response.StatusField))
	if rawStatus == "" {
		return courier.TrackingResult{}, courier.Rejected(c.cfg.Code, "NO_STATUS", "courier response has no status")
	}

	res := courier.TrackingResult{
		RawStatus: rawStatus,
		Status:    courier.Normalize(rawStatus, c.cfg.Response.StatusMap),
		CheckedAt: c.now(),
		Raw:       raw,
	}
	if c.cfg.Response.LocationField != "" {
		if loc := stringValue(getNestedValue(data, c.cfg.Response.LocationField)); loc != "" {
			res.Location = &loc
		}
	}
	return res, nil
}

func (c *Client) do(req *http.Request) (json.RawMessage, map[string]any, error) {
	c.addAuth(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, nil, courier.Transport(c.cfg.Code, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, courier.Transport(c.cfg.Code, errors.Wrap(err, "read body"))
	}
	if resp.StatusCode/100 != 2 {
		return nil, nil, courier.HTTPError(c.cfg.Code, resp.StatusCode, string(b))
	}

	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, nil, &courier.Error{
			Courier: c.cfg.Code,
			Class:   courier.ClassRetryable,
			Code:    "BAD_RESPONSE",
			Message: "decode response",
			Err:     err,
		}
	}
	return b, data, nil
}

// checkSuccess applies success_field/error_field: a 2xx with an explicit failure flag is a
// business rejection.
func (c *Client) checkSuccess(data map[string]any) error {
	if c.cfg.Response.SuccessField == "" {
		return nil
	}
	v := getNestedValue(data, c.cfg.Response.SuccessField)
	ok := false
	switch t := v.(type) {
	case bool:
		ok = t
	case string:
		ok = strings.EqualFold(t, "true") || strings.EqualFold(t, "success") || t == "1"
	case float64:
		ok = t == 1 || t == 200
	}
	if ok {
		return nil
	}
	msg := "rejected by courier"
	if c.cfg.Response.ErrorField != "" {
		if m := stringValue(getNestedValue(data, c.cfg.Response.ErrorField)); m != "" {
			msg = m
		}
	}
	return courier.Rejected(c.cfg.Code, "", msg)
}

func (c *Client) endpoint(tmpl, trackingID string) (string, error) {
	path := strings.ReplaceAll(tmpl, "{tracking_id}", url.PathEscape(trackingID))
	u, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + path)
	if err != nil {
		return "", errors.Wrap(err, "parse endpoint url")
	}
	if strings.EqualFold(c.cfg.AuthType, "query") {
		q := u.Query()
		name := c.cfg.AuthHeader
		if name == "" {
			name = "api_key"
		}
		q.Set(name, c.cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) addAuth(req *http.Request) {
	switch strings.ToLower(c.cfg.AuthType) {
	case "query":
	case "basic":
		auth := base64.StdEncoding.EncodeToString([]byte(c.cfg.APIKey + ":" + c.cfg.APISecret))
		req.Header.Set("Authorization", "Basic "+auth)
	case "header":
		header := c.cfg.AuthHeader
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, c.cfg.APIKey)
	default:
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

func (c *Client) bookingBody(req courier.BookingRequest) map[string]any {
	weight := req.Weight
	if strings.EqualFold(c.cfg.Request.WeightUnit, "g") {
		weight = weight.Mul(decimal.NewFromInt(1000))
	}
	fields := map[string]any{
		"order_number":     req.OrderNumber,
		"pickup_name":      req.Pickup.Name,
		"pickup_phone":     req.Pickup.Phone,
		"pickup_address":   joinAddress(req.Pickup.Line1, req.Pickup.Line2),
		"pickup_city":      req.Pickup.City,
		"consignee_name":   req.Delivery.Name,
		"consignee_phone":  req.Delivery.Phone,
		"delivery_address": joinAddress(req.Delivery.Line1, req.Delivery.Line2),
		"delivery_city":    req.Delivery.City,
		"weight":           weight.String(),
		"pieces":           req.Pieces,
		"cod_amount":       req.COD.StringFixed(2),
	}
	mapping := c.cfg.Request.FieldMapping
	if len(mapping) == 0 {
		return fields
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if name, ok := mapping[k]; ok {
			if name == "-" {
				continue
			}
			out[name] = v
			continue
		}
		out[k] = v
	}
	return out
}

func joinAddress(line1, line2 string) string {
	if strings.TrimSpace(line2) == "" {
		return line1
	}
	return line1 + ", " + line2
}

func getNestedValue(data map[string]any, path string) any {
	var current any = data
	for _, part := range strings.Split(path, ".") {
		switch m := current.(type) {
		case map[string]any:
			current = m[part]
		case []any:
			// "events.0.status" style: only numeric indexes, "last" picks the tail
			idx := -1
			if part == "last" {
				idx = len(m) - 1
			} else if _, err := fmt.Sscanf(part, "%d", &idx); err != nil {
				return nil
			}
			if idx < 0 || idx >= len(m) {
				return nil
			}
			current = m[idx]
		default:
			return nil
		}
	}
	return current
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return decimal.NewFromFloat(t).String()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
