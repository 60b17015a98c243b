// Package ledger keeps an append-only record of finalized charges.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/tiers"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
)

const DefaultIndex = "entitlement-charges"

type Kind string

const (
	KindAI  Kind = "ai"
	KindGas Kind = "gas"
)

// Charge is one finalized, billable operation.
type Charge struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"userId"`
	Tier        tiers.ID               `json:"tier"`
	Kind        Kind                   `json:"kind"`
	Model       string                 `json:"model,omitempty"`
	Operation   string                 `json:"operation,omitempty"`
	AmountBEZ   float64                `json:"amountBEZ"`
	AmountUSD   float64                `json:"amountUSD"`
	DiscountBEZ float64                `json:"discountBEZ"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

type Recorder interface {
	Record(ctx context.Context, c Charge) error
	Recent(ctx context.Context, userID string, size int) ([]Charge, error)
}

// NopRecorder drops every charge.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Charge) error { return nil }

func (NopRecorder) Recent(context.Context, string, int) ([]Charge, error) { return nil, nil }

type ElasticsearchRecorder struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
	now    func() time.Time
}

func NewElasticsearchRecorder(client *elasticsearch.Client, index string, log logger.Logger) *ElasticsearchRecorder {
	if index == "" {
		index = DefaultIndex
	}
	return &ElasticsearchRecorder{client: client, index: index, logger: log, now: time.Now}
}

// Record indexes c, filling in the id and timestamp when missing.
func (r *ElasticsearchRecorder) Record(ctx context.Context, c Charge) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = r.now().UTC()
	}

	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal charge: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      r.index,
		DocumentID: c.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, r.client)
	if err != nil {
		return fmt.Errorf("index charge: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index charge failed: %s", res.String())
	}

	r.logger.Debug("charge recorded", map[string]interface{}{
		"chargeId":  c.ID,
		"userId":    c.UserID,
		"kind":      string(c.Kind),
		"amountBEZ": c.AmountBEZ,
	})
	return nil
}

// Recent returns the newest charges of a user, newest first.
func (r *ElasticsearchRecorder) Recent(ctx context.Context, userID string, size int) ([]Charge, error) {
	if size <= 0 {
		size = 20
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"userId.keyword": userID},
		},
		"sort": []interface{}{
			map[string]interface{}{"timestamp": map[string]interface{}{"order": "desc"}},
		},
		"size": size,
	}
	body, _ := json.Marshal(query)

	req := esapi.SearchRequest{
		Index: []string{r.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, r.client)
	if err != nil {
		return nil, fmt.Errorf("search charges: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search charges failed: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source Charge `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode charges: %w", err)
	}

	out := make([]Charge, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}
