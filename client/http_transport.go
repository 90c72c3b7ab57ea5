package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/FleetLedger/fleet-ledger-backend/errors"
	"github.com/FleetLedger/fleet-ledger-backend/types"
)

// HTTPTransport dispatches mutations and resync fetches against the ledger
// API. It implements Dispatcher and Fetcher.
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPTransport(baseURL, token string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultMutationTimeout
	}
	return &HTTPTransport{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Dispatch maps a mutation to its API endpoint and returns the updated
// authoritative trip from the response.
func (t *HTTPTransport) Dispatch(ctx context.Context, tripID string, m Mutation) (*types.Trip, error) {
	var (
		method string
		path   string
		body   any
	)
	base := fmt.Sprintf("/v1/trips/%s", tripID)

	switch mut := m.(type) {
	case AppendLeg:
		method, path, body = http.MethodPost, base+"/legs", mut.Leg
	case AddExpense:
		method, path, body = http.MethodPost, base+"/expenses", mut.Expense
	case RemoveExpense:
		method, path = http.MethodDelete, base+"/expenses/"+mut.ExpenseID
	case AddBorderCrossing:
		method, path, body = http.MethodPost, base+"/border-crossings", mut.Crossing
	case RemoveBorderCrossing:
		method, path = http.MethodDelete, base+"/border-crossings/"+mut.CrossingID
	case SetRoadTax:
		method, path, body = http.MethodPut, base+"/platon", mut.Entry
	case CompleteTrip:
		method, path = http.MethodPut, base+"/complete"
		body = map[string]float64{"endOdometer": mut.EndOdometer, "endFuel": mut.EndFuel}
	case CancelTrip:
		method, path = http.MethodPut, base+"/cancel"
	default:
		return nil, errors.ValidationFailed("unsupported mutation", fmt.Sprintf("no endpoint for mutation kind %q", m.Kind()))
	}

	return t.roundTrip(ctx, method, path, body)
}

// FetchTrip retrieves the full authoritative trip.
func (t *HTTPTransport) FetchTrip(ctx context.Context, tripID string) (*types.Trip, error) {
	return t.roundTrip(ctx, http.MethodGet, "/v1/trips/"+tripID, nil)
}

func (t *HTTPTransport) roundTrip(ctx context.Context, method, path string, body any) (*types.Trip, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, errors.ValidationFailed("invalid request body", err.Error())
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, errors.NetworkError, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.NetworkError, "request failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrap(err, errors.NetworkError, "failed to read response")
	}

	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp.StatusCode, payload)
	}

	var view struct {
		Trip *types.Trip `json:"trip"`
	}
	if err := json.Unmarshal(payload, &view); err != nil || view.Trip == nil {
		return nil, errors.New(errors.NetworkError, "malformed response body", string(payload[:min(len(payload), 256)]))
	}
	return view.Trip, nil
}

// decodeAPIError rebuilds an AppError from the server's error envelope so
// callers can branch on the error type exactly as server-side code does.
func decodeAPIError(status int, payload []byte) error {
	var body struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Type == "" {
		return &errors.AppError{
			Type:       errors.ServerError,
			Message:    "request rejected",
			Detail:     fmt.Sprintf("status %d", status),
			HTTPStatus: status,
		}
	}
	return &errors.AppError{
		Type:       errors.ErrorType(body.Type),
		Message:    body.Message,
		Detail:     body.Error,
		HTTPStatus: status,
	}
}
