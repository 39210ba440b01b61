package pricefeed

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

	"github.com/shopspring/decimal"
)

const DefaultURL = "https://app.vela.exchange/api/public"

const DefaultUserAgent = "Mozilla/5.0"

// HTTPSource queries the Vela public pricing route once per call.
type HTTPSource struct {
	endpoint   string
	pair       string
	httpClient *http.Client
	userAgent  string
}

func NewHTTPSource(endpoint, pair string) (*HTTPSource, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("price url parse %q: %w", endpoint, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("price url must be http(s), got %q", endpoint)
	}
	pair = strings.TrimSpace(pair)
	if pair == "" {
		pair = DefaultPair
	}
	return &HTTPSource{
		endpoint:   endpoint,
		pair:       pair,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  DefaultUserAgent,
	}, nil
}

type pricingRequest struct {
	Route   string         `json:"route"`
	Action  string         `json:"action"`
	Payload pricingPayload `json:"payload"`
}

type pricingPayload struct {
	Pair string `json:"pair"`
}

type pricingResponse struct {
	Price *decimal.Decimal `json:"price"`
}

func (s *HTTPSource) Price(ctx context.Context) (decimal.Decimal, error) {
	if s == nil {
		return decimal.Decimal{}, fmt.Errorf("price source nil")
	}
	body, err := json.Marshal(pricingRequest{Route: "pricing", Action: "GET_PAIR_PRICE", Payload: pricingPayload{Pair: s.pair}})
	if err != nil {
		return decimal.Decimal{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("pricing %s: status=%d body=%q", s.pair, resp.StatusCode, readBodyLimit(resp.Body, 8<<10))
	}

	var out pricingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Decimal{}, fmt.Errorf("pricing decode: %w", err)
	}
	if out.Price == nil {
		return decimal.Decimal{}, fmt.Errorf("%w: pricing response for %s has no price", ErrBadPrice, s.pair)
	}
	return checkPrice(*out.Price)
}

func readBodyLimit(r io.Reader, max int64) string {
	if r == nil || max <= 0 {
		return ""
	}
	b, _ := io.ReadAll(&io.LimitedReader{R: r, N: max})
	return strings.TrimSpace(string(b))
}
