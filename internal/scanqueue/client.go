package scanqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome values the server can return for a scan. OutcomeError marks an
// entry the server could not evaluate; it must be retried.
const (
	OutcomeAccepted    = "accepted"
	OutcomeAlreadyUsed = "already_used"
	OutcomeInvalidScan = "invalid_scan"
	OutcomeError       = "error"
)

// ScanRequest is the body of POST /scans.
type ScanRequest struct {
	DeviceID   string    `json:"device_id"`
	TripID     uuid.UUID `json:"trip_id"`
	TicketCode string    `json:"ticket_code"`
	Timestamp  time.Time `json:"timestamp"`
}

// BatchEntry is one queued scan inside a batch.
type BatchEntry struct {
	QRData    string     `json:"qr_data"`
	Timestamp time.Time  `json:"timestamp"`
	TripID    *uuid.UUID `json:"trip_id,omitempty"`
}

// BatchRequest is the body of POST /scans/batch.
type BatchRequest struct {
	DeviceID    string       `json:"device_id"`
	TripID      *uuid.UUID   `json:"trip_id,omitempty"`
	Validations []BatchEntry `json:"validations"`
}

// Ticket is the passenger summary shown on the scanner display.
type Ticket struct {
	TicketID         uuid.UUID  `json:"ticket_id"`
	BookingReference string     `json:"booking_reference"`
	PassengerName    string     `json:"passenger_name"`
	PassengerType    string     `json:"passenger_type"`
	NationalityGroup string     `json:"nationality_group,omitempty"`
	TripID           uuid.UUID  `json:"trip_id"`
	UsedAt           *time.Time `json:"used_at,omitempty"`
}

// Result is the server's answer for one scan.
type Result struct {
	Result         string     `json:"result"`
	Message        string     `json:"message"`
	Ticket         *Ticket    `json:"ticket,omitempty"`
	PreviousUsedAt *time.Time `json:"previous_used_at,omitempty"`
}

// Settled reports whether the server has decided this scan for good.
func (r Result) Settled() bool {
	return r.Result != "" && r.Result != OutcomeError
}

type batchResponse struct {
	Results []Result `json:"results"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPStatusError is a non-2xx response from the server.
type HTTPStatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Definitive reports whether retrying the same request cannot succeed.
// Timeouts and rate limiting are 4xx but transient. So are 401 and 403:
// the batch is fine and the device needs a fresh token.
func (e *HTTPStatusError) Definitive() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusUnauthorized, http.StatusForbidden:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Client talks to the boarding API's scan endpoints.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a Client for baseURL. token, when set, is sent as a
// bearer device token. A nil httpClient gets a 30 second timeout.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

// Scan validates one ticket online.
func (c *Client) Scan(ctx context.Context, req ScanRequest) (Result, error) {
	var out Result
	if err := c.post(ctx, "/scans", req, &out); err != nil {
		return Result{}, fmt.Errorf("scanqueue.Client.Scan: %w", err)
	}
	return out, nil
}

// Batch replays queued scans. The results are in request order.
func (c *Client) Batch(ctx context.Context, req BatchRequest) ([]Result, error) {
	var out batchResponse
	if err := c.post(ctx, "/scans/batch", req, &out); err != nil {
		return nil, fmt.Errorf("scanqueue.Client.Batch: %w", err)
	}
	return out.Results, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &HTTPStatusError{StatusCode: resp.StatusCode}
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Code != "" {
			se.Code, se.Message = eb.Error.Code, eb.Error.Message
		} else {
			se.Message = strings.TrimSpace(string(raw))
		}
		return se
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
