package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	DefaultMaxAge       = 30 * time.Second
	DefaultPingInterval = 10 * time.Second
)

type StreamOptions struct {
	Pair   string
	MaxAge time.Duration

	PingInterval time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
}

func (o StreamOptions) withDefaults() StreamOptions {
	if strings.TrimSpace(o.Pair) == "" {
		o.Pair = DefaultPair
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 15 * time.Second
	}
	return o
}

// The stream speaks a minimal quote protocol of its own, not an exchange API:
// the client sends {"action":"subscribe","pair":P} and the server pushes
// {"pair":P,"price":"1234.5","ts":<unix ms>} frames. Point it at a relay that
// speaks this shape.
type subscribeMsg struct {
	Action string `json:"action"`
	Pair   string `json:"pair"`
}

// Quote is one price update from the stream.
type Quote struct {
	Pair  string          `json:"pair"`
	Price decimal.Decimal `json:"price"`
	TsMs  int64           `json:"ts"`
}

// Stream keeps the latest quote for one pair from a WebSocket feed and
// reconnects with jittered backoff until its context ends.
type Stream struct {
	url  string
	opts StreamOptions

	mu     sync.RWMutex
	last   decimal.Decimal
	lastAt time.Time
	now    func() time.Time
	done   chan struct{}
}

func StartStream(ctx context.Context, url string, opts StreamOptions) (*Stream, error) {
	url = strings.TrimSpace(url)
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("price stream url must be ws(s), got %q", url)
	}
	s := &Stream{url: url, opts: opts.withDefaults(), now: time.Now, done: make(chan struct{})}
	go s.run(ctx)
	return s, nil
}

// Price returns the latest quote, or ErrStalePrice when none arrived within
// MaxAge.
func (s *Stream) Price(context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastAt.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("%w: no %s quote received yet", ErrStalePrice, s.opts.Pair)
	}
	if age := s.now().Sub(s.lastAt); age > s.opts.MaxAge {
		return decimal.Decimal{}, fmt.Errorf("%w: last %s quote is %s old", ErrStalePrice, s.opts.Pair, age.Truncate(time.Millisecond))
	}
	return s.last, nil
}

// Done is closed once the stream has stopped reconnecting.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) store(q Quote) {
	s.mu.Lock()
	s.last = q.Price
	s.lastAt = s.now()
	s.mu.Unlock()
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)

	backoff := s.opts.BackoffMin
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			log.Printf("[warn] [price] stream dial: %v", err)
			sleepWithJitter(ctx, backoff)
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		backoff = s.opts.BackoffMin

		if err := s.session(ctx, conn); err != nil && ctx.Err() == nil {
			log.Printf("[warn] [price] stream session: %v", err)
		}
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		sleepWithJitter(ctx, backoff)
		backoff = nextBackoff(backoff, s.opts.BackoffMax)
	}
}

func (s *Stream) session(ctx context.Context, conn *websocket.Conn) error {
	if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", Pair: s.opts.Pair}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	var writeMu sync.Mutex
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() { stopOnce.Do(func() { close(stop) }) }
	defer stopAll()

	go func() {
		t := time.NewTicker(s.opts.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-stop:
				return
			case <-t.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(3*time.Second))
				writeMu.Unlock()
				if err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if typ != websocket.TextMessage || len(msg) == 0 {
			continue
		}

		var q Quote
		if err := json.Unmarshal(msg, &q); err != nil {
			log.Printf("[warn] [price] stream decode: %v", err)
			continue
		}
		if q.Pair != "" && !strings.EqualFold(q.Pair, s.opts.Pair) {
			continue
		}
		if _, err := checkPrice(q.Price); err != nil {
			log.Printf("[warn] [price] stream: %v", err)
			continue
		}
		s.store(q)
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	if next := cur * 2; next < max {
		return next
	}
	return max
}

func sleepWithJitter(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	if j := int64(d) / 7; j > 0 {
		d = time.Duration(int64(d) + rand.Int64N(2*j+1) - j)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
