// Package gas prices on-chain transactions and applies the tier's gas subsidy.
package gas

import (
	"context"
	"errors"
	"fmt"

	httpclient "bezhas-entitlements/internal/common/http"
)

// Oracle returns the current gas price in gwei.
type Oracle interface {
	FetchPrice(ctx context.Context) (float64, error)
}

type feeLevel struct {
	MaxPriorityFee float64 `json:"maxPriorityFee"`
	MaxFee         float64 `json:"maxFee"`
}

// stationResponse is the Polygon gas station v2 document.
type stationResponse struct {
	SafeLow          feeLevel `json:"safeLow"`
	Standard         feeLevel `json:"standard"`
	Fast             feeLevel `json:"fast"`
	EstimatedBaseFee float64  `json:"estimatedBaseFee"`
	BlockTime        int64    `json:"blockTime"`
	BlockNumber      int64    `json:"blockNumber"`
}

var ErrNoPrice = errors.New("gas station returned no usable price")

// HTTPOracle reads the fast max fee, then standard, then safeLow.
type HTTPOracle struct {
	client *httpclient.Client
	url    string
}

func NewHTTPOracle(client *httpclient.Client, url string) *HTTPOracle {
	return &HTTPOracle{client: client, url: url}
}

func (o *HTTPOracle) FetchPrice(ctx context.Context) (float64, error) {
	var doc stationResponse
	if err := o.client.GetJSON(ctx, o.url, &doc); err != nil {
		return 0, fmt.Errorf("gas station request: %w", err)
	}
	for _, level := range []feeLevel{doc.Fast, doc.Standard, doc.SafeLow} {
		if level.MaxFee > 0 {
			return level.MaxFee, nil
		}
	}
	return 0, ErrNoPrice
}
