package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

func TestHTTPSource_Price(t *testing.T) {
	var got pricingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method=%s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"price": 2000.125, "pair": "ETH/USD"}`))
	}))
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL, "")
	if err != nil {
		t.Fatalf("NewHTTPSource: %v", err)
	}
	p, err := src.Price(context.Background())
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !p.Equal(decimal.RequireFromString("2000.125")) {
		t.Fatalf("got %s want 2000.125", p)
	}
	if got.Route != "pricing" || got.Action != "GET_PAIR_PRICE" || got.Payload.Pair != DefaultPair {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestHTTPSource_Errors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"status", http.StatusBadGateway, `upstream down`, nil},
		{"missing", http.StatusOK, `{"pair":"ETH/USD"}`, ErrBadPrice},
		{"zero", http.StatusOK, `{"price":"0"}`, ErrBadPrice},
		{"garbage", http.StatusOK, `not json`, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			src, err := NewHTTPSource(srv.URL, "ETH/USD")
			if err != nil {
				t.Fatalf("NewHTTPSource: %v", err)
			}
			_, err = src.Price(context.Background())
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
		})
	}
}

func TestNewHTTPSource_RejectsScheme(t *testing.T) {
	if _, err := NewHTTPSource("ftp://example.com", ""); err == nil {
		t.Fatalf("expected scheme error")
	}
}

type staticSource struct {
	p   decimal.Decimal
	err error
}

func (s staticSource) Price(context.Context) (decimal.Decimal, error) { return s.p, s.err }

func TestFallback(t *testing.T) {
	want := decimal.NewFromInt(1999)
	f := Fallback{Primary: staticSource{err: ErrStalePrice}, Secondary: staticSource{p: want}}
	p, err := f.Price(context.Background())
	if err != nil || !p.Equal(want) {
		t.Fatalf("p=%s err=%v", p, err)
	}

	f = Fallback{Primary: staticSource{err: ErrStalePrice}}
	if _, err := f.Price(context.Background()); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected primary error, got %v", err)
	}
}

func TestStream_LatestQuoteAndStaleness(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan subscribeMsg, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub subscribeMsg
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"pair":"BTC/USD","price":"60000"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"pair":"ETH/USD","price":"2001.5"}`))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := StartStream(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), StreamOptions{MaxAge: time.Minute})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	select {
	case sub := <-subscribed:
		if sub.Action != "subscribe" || sub.Pair != DefaultPair {
			t.Fatalf("unexpected subscription %+v", sub)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no subscription received")
	}

	deadline := time.Now().Add(5 * time.Second)
	var p decimal.Decimal
	for {
		p, err = s.Price(context.Background())
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !p.Equal(decimal.RequireFromString("2001.5")) {
		t.Fatalf("got %s want 2001.5", p)
	}

	s.mu.Lock()
	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	s.mu.Unlock()
	if _, err := s.Price(context.Background()); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale price, got %v", err)
	}

	cancel()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("stream did not stop")
	}
}

func TestStream_NoQuoteIsStale(t *testing.T) {
	s := &Stream{opts: StreamOptions{}.withDefaults(), now: time.Now}
	if _, err := s.Price(context.Background()); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale price, got %v", err)
	}
}

func TestStartStream_RejectsScheme(t *testing.T) {
	if _, err := StartStream(context.Background(), "https://example.com", StreamOptions{}); err == nil {
		t.Fatalf("expected scheme error")
	}
}
