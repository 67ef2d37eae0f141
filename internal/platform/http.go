package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultPageSize = 100
)

// StatusError is a non-2xx platform response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// HTTPClient is a Client for ThingsBoard-style REST APIs.
type HTTPClient struct {
	baseURL    string
	token      string
	http       *http.Client
	maxRetries int
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) HTTPOption {
	return func(c *HTTPClient) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackOff replaces the exponential retry policy.
func WithBackOff(fn func() backoff.BackOff) HTTPOption {
	return func(c *HTTPClient) { c.newBackOff = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) HTTPOption {
	return func(c *HTTPClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewHTTPClient creates a client for the API rooted at baseURL
// (e.g. "https://cloud.example.com/api"). Requests carry token as a
// bearer credential in the X-Authorization header.
func NewHTTPClient(baseURL, token string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		http:       &http.Client{Timeout: defaultTimeout},
		maxRetries: 3,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends a request, retrying network errors and 5xx responses. 4xx
// responses fail immediately. A 404 maps to notFound when it is non-nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any, notFound error) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
	}

	// Commands and acknowledgements are not idempotent; a 5xx or a dropped
	// connection may still have reached the device, so only reads retry.
	retryable := method == http.MethodGet || method == http.MethodHead
	transient := func(err error) error {
		if retryable {
			return err
		}
		return backoff.Permanent(err)
	}

	attempt := 0
	op := func() error {
		attempt++
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("X-Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Debug("platform request failed", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
			return transient(fmt.Errorf("sending request: %w", err))
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return transient(fmt.Errorf("reading response: %w", err))
		}

		if resp.StatusCode >= 300 {
			serr := &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: truncate(string(respBody), 200)}
			if resp.StatusCode == http.StatusNotFound && notFound != nil {
				return backoff.Permanent(notFound)
			}
			if resp.StatusCode < 500 {
				return backoff.Permanent(serr)
			}
			c.logger.Debug("platform server error", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt))
			return transient(serr)
		}

		if out == nil || len(respBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx)
	return backoff.Retry(op, policy)
}

type tbID struct {
	ID string `json:"id"`
}

type tbDevice struct {
	ID               tbID   `json:"id"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	Label            string `json:"label"`
	Active           *bool  `json:"active"`
	LastActivityTime int64  `json:"lastActivityTime"`
}

func (d tbDevice) device() Device {
	out := Device{ID: d.ID.ID, Name: d.Name, Type: d.Type, Label: d.Label, Active: true}
	if d.Active != nil {
		out.Active = *d.Active
	}
	if d.LastActivityTime > 0 {
		out.LastActivity = time.UnixMilli(d.LastActivityTime).UTC()
	}
	return out
}

type tbPage[T any] struct {
	Data    []T  `json:"data"`
	HasNext bool `json:"hasNext"`
}

// ListDevices pages through the user's devices.
func (c *HTTPClient) ListDevices(ctx context.Context, f DeviceFilter) ([]Device, error) {
	var out []Device
	for page := 0; ; page++ {
		var resp tbPage[tbDevice]
		path := fmt.Sprintf("/user/devices?page=%d&pageSize=%d", page, defaultPageSize)
		if err := c.do(ctx, http.MethodGet, path, nil, &resp, nil); err != nil {
			return nil, fmt.Errorf("listing devices: %w", err)
		}
		for _, d := range resp.Data {
			dev := d.device()
			if f.Matches(dev) {
				out = append(out, dev)
			}
		}
		if !resp.HasNext {
			return out, nil
		}
	}
}

// GetDevice fetches one device by ID.
func (c *HTTPClient) GetDevice(ctx context.Context, id string) (Device, error) {
	var d tbDevice
	if err := c.do(ctx, http.MethodGet, "/device/"+url.PathEscape(id), nil, &d, ErrDeviceNotFound); err != nil {
		return Device{}, err
	}
	return d.device(), nil
}

type tbPoint struct {
	TS    int64 `json:"ts"`
	Value any   `json:"value"`
}

// GetTelemetry reads the given keys in w, newest first.
func (c *HTTPClient) GetTelemetry(ctx context.Context, deviceID string, keys []string, w Window) (map[string][]Point, error) {
	q := url.Values{}
	q.Set("keys", strings.Join(keys, ","))
	if !w.Start.IsZero() {
		q.Set("startTs", strconv.FormatInt(w.Start.UnixMilli(), 10))
		end := w.End
		if end.IsZero() {
			end = time.Now()
		}
		q.Set("endTs", strconv.FormatInt(end.UnixMilli(), 10))
	}
	if w.Limit > 0 {
		q.Set("limit", strconv.Itoa(w.Limit))
	}

	var raw map[string][]tbPoint
	path := "/plugins/telemetry/DEVICE/" + url.PathEscape(deviceID) + "/values/timeseries?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &raw, ErrDeviceNotFound); err != nil {
		return nil, fmt.Errorf("reading telemetry: %w", err)
	}

	out := make(map[string][]Point, len(raw))
	for k, pts := range raw {
		series := make([]Point, 0, len(pts))
		for _, p := range pts {
			series = append(series, Point{Timestamp: time.UnixMilli(p.TS).UTC(), Value: fmt.Sprint(p.Value)})
		}
		out[k] = series
	}
	return out, nil
}

// TelemetryKeys lists the time-series keys a device reports.
func (c *HTTPClient) TelemetryKeys(ctx context.Context, deviceID string) ([]string, error) {
	var keys []string
	path := "/plugins/telemetry/DEVICE/" + url.PathEscape(deviceID) + "/keys/timeseries"
	if err := c.do(ctx, http.MethodGet, path, nil, &keys, ErrDeviceNotFound); err != nil {
		return nil, fmt.Errorf("listing telemetry keys: %w", err)
	}
	return keys, nil
}

type tbAlarm struct {
	ID             tbID   `json:"id"`
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Status         string `json:"status"`
	Originator     tbID   `json:"originator"`
	OriginatorName string `json:"originatorName"`
	CreatedTime    int64  `json:"createdTime"`
	Acknowledged   bool   `json:"acknowledged"`
	Cleared        bool   `json:"cleared"`
}

func (a tbAlarm) alarm() Alarm {
	out := Alarm{
		ID:           a.ID.ID,
		Type:         a.Type,
		Severity:     a.Severity,
		Status:       a.Status,
		Originator:   a.OriginatorName,
		OriginatorID: a.Originator.ID,
		CreatedAt:    time.UnixMilli(a.CreatedTime).UTC(),
		Acknowledged: a.Acknowledged,
		Cleared:      a.Cleared,
	}
	if strings.Contains(a.Status, "ACK") && !strings.Contains(a.Status, "UNACK") {
		out.Acknowledged = true
	}
	if strings.HasPrefix(a.Status, "CLEARED") {
		out.Cleared = true
	}
	return out
}

// GetAlarms fetches alarms, newest first.
func (c *HTTPClient) GetAlarms(ctx context.Context, f AlarmFilter) ([]Alarm, error) {
	q := url.Values{}
	q.Set("page", "0")
	size := defaultPageSize
	if f.Limit > 0 {
		size = f.Limit
	}
	q.Set("pageSize", strconv.Itoa(size))
	q.Set("sortProperty", "createdTime")
	q.Set("sortOrder", "DESC")
	if f.Severity != "" {
		q.Set("severityList", strings.ToUpper(f.Severity))
	}
	if f.ActiveOnly {
		q.Set("statusList", "ACTIVE")
	}
	if !f.Since.IsZero() {
		q.Set("startTime", strconv.FormatInt(f.Since.UnixMilli(), 10))
	}

	path := "/v2/alarms?" + q.Encode()
	if f.OriginatorID != "" {
		path = "/v2/alarm/DEVICE/" + url.PathEscape(f.OriginatorID) + "?" + q.Encode()
	}

	var resp tbPage[tbAlarm]
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, nil); err != nil {
		return nil, fmt.Errorf("listing alarms: %w", err)
	}
	var out []Alarm
	for _, a := range resp.Data {
		al := a.alarm()
		if f.Matches(al) {
			out = append(out, al)
		}
	}
	return out, nil
}

// AcknowledgeAlarm acknowledges the alarm with the given ID.
func (c *HTTPClient) AcknowledgeAlarm(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodPost, "/alarm/"+url.PathEscape(id)+"/ack", nil, nil, ErrAlarmNotFound); err != nil {
		return fmt.Errorf("acknowledging alarm: %w", err)
	}
	return nil
}

// SendCommand performs a two-way RPC call on the device.
func (c *HTTPClient) SendCommand(ctx context.Context, deviceID, method string, params any) (json.RawMessage, error) {
	body := map[string]any{"method": method, "params": params}
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/plugins/rpc/twoway/"+url.PathEscape(deviceID), body, &out, ErrDeviceNotFound); err != nil {
		return nil, fmt.Errorf("sending %s to %s: %w", method, deviceID, err)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
