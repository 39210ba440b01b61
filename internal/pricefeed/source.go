// Package pricefeed supplies the reference price used to build open orders.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
)

const DefaultPair = "ETH/USD"

var (
	ErrStalePrice = errors.New("stale price")
	ErrBadPrice   = errors.New("bad price")
)

type Source interface {
	Price(ctx context.Context) (decimal.Decimal, error)
}

// Fallback asks Primary first and Secondary when Primary fails.
type Fallback struct {
	Primary   Source
	Secondary Source
}

func (f Fallback) Price(ctx context.Context) (decimal.Decimal, error) {
	if f.Primary != nil {
		p, err := f.Primary.Price(ctx)
		if err == nil {
			return p, nil
		}
		if f.Secondary == nil || ctx.Err() != nil {
			return decimal.Decimal{}, err
		}
		log.Printf("[warn] [price] primary source failed, falling back: %v", err)
	}
	if f.Secondary == nil {
		return decimal.Decimal{}, errors.New("no price source configured")
	}
	return f.Secondary.Price(ctx)
}

func checkPrice(p decimal.Decimal) (decimal.Decimal, error) {
	if !p.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s is not positive", ErrBadPrice, p)
	}
	return p, nil
}
