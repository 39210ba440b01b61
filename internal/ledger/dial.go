package ledger

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

// ValidateRPCURL accepts ws(s) and http(s) endpoints.
func ValidateRPCURL(raw string) (string, error) {
	rpcURL := strings.TrimSpace(raw)
	if rpcURL == "" {
		return "", fmt.Errorf("RPC_WS_URL or RPC_URL required (set RPC_WS_URL in .env)")
	}
	if !strings.HasPrefix(rpcURL, "ws") && !strings.HasPrefix(rpcURL, "http") {
		return "", fmt.Errorf("RPC URL must be ws(s)://... or http(s)://..., got %q", rpcURL)
	}
	if strings.Contains(rpcURL, "YOUR_KEY") {
		return "", fmt.Errorf("RPC URL still contains placeholder YOUR_KEY. Set RPC_WS_URL/RPC_URL to your provider URL")
	}
	return rpcURL, nil
}

// DialWithBackoff connects and fetches the head block, retrying up to
// attempts times (attempts <= 0 retries until ctx ends).
func DialWithBackoff(ctx context.Context, url string, attempts int, baseDelay, maxDelay time.Duration) (*Client, uint64, error) {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}

	delay := baseDelay
	var lastErr error
	for attempt := 1; attempts <= 0 || attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		eth, err := ethclient.DialContext(ctx, url)
		if err == nil {
			headNum, headErr := eth.BlockNumber(ctx)
			if headErr == nil {
				return NewClient(eth), headNum, nil
			}
			eth.Close()
			err = fmt.Errorf("failed to fetch head: %w", headErr)
		}
		lastErr = err

		if attempts > 0 && attempt == attempts {
			break
		}
		wait := jitterDuration(delay)
		log.Printf("[warn] failed to connect ledger node (attempt %d), retrying in %s: %v", attempt, wait, err)
		if err := SleepWithContext(ctx, wait); err != nil {
			return nil, 0, err
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return nil, 0, fmt.Errorf("ledger node unreachable after %d attempts: %w", attempts, lastErr)
}

func jitterDuration(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	j := d / 5 // +/-20%
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(rand.Int64N(int64(j*2)+1))
}

func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
