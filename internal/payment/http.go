package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPGateway talks to a JSON charge API:
//
//	POST {base}/charges            {"reservation_id","amount_cents","currency"} -> {"id"}
//	POST {base}/charges/{id}/void
//
// Requests carry a bearer token and an Idempotency-Key header, so 5xx and 429
// responses are retried.
type HTTPGateway struct {
	baseURL    string
	token      string
	currency   string
	client     *http.Client
	maxElapsed time.Duration
}

func NewHTTPGateway(baseURL, token string) *HTTPGateway {
	return &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		currency:   "SEK",
		client:     &http.Client{Timeout: 15 * time.Second},
		maxElapsed: 20 * time.Second,
	}
}

type chargeBody struct {
	ReservationID string `json:"reservation_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
}

type chargeResponse struct {
	ID string `json:"id"`
}

func (g *HTTPGateway) RequestCharge(ctx context.Context, req ChargeRequest) (string, error) {
	if req.AmountCents <= 0 {
		return "", ErrInvalidAmount
	}
	body, err := json.Marshal(chargeBody{ReservationID: req.ReservationID, AmountCents: req.AmountCents, Currency: g.currency})
	if err != nil {
		return "", err
	}

	var out chargeResponse
	err = g.do(ctx, g.baseURL+"/charges", body, req.IdempotencyKey, &out)
	if err != nil {
		return "", fmt.Errorf("request charge for %s: %w", req.ReservationID, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("request charge for %s: provider returned no id", req.ReservationID)
	}
	return out.ID, nil
}

func (g *HTTPGateway) Void(ctx context.Context, handle string) error {
	if handle == "" {
		return ErrHandleRequired
	}
	if err := g.do(ctx, g.baseURL+"/charges/"+url.PathEscape(handle)+"/void", nil, "void-"+handle, nil); err != nil {
		return fmt.Errorf("void charge %s: %w", handle, err)
	}
	return nil
}

func (g *HTTPGateway) do(ctx context.Context, endpoint string, body []byte, idempotencyKey string, out any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if g.token != "" {
			req.Header.Set("Authorization", "Bearer "+g.token)
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("provider returned %d", resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode provider response: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = g.maxElapsed
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
