package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
)

const usageKeyPrefix = "usage/"

// UsageStore is the append-only usage ledger plus the aggregation queries
// behind the analytics endpoints.
//
// Keys are `usage/<companyID>/<unixNano>/<uuid>` so a company prefix scan
// yields records in timestamp order. Records are never mutated or deleted.
type UsageStore struct {
	store *Store
}

// NewUsageStore creates a usage view over the shared store.
func NewUsageStore(s *Store) *UsageStore {
	return &UsageStore{store: s}
}

// Append writes one usage record. Missing id/timestamp are filled in here
// so callers can hand over partially-built records.
func (us *UsageStore) Append(_ context.Context, rec datatypes.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}
	key := fmt.Sprintf("%s%s/%020d/%s",
		usageKeyPrefix, rec.CompanyID, rec.Timestamp.UnixNano(), rec.ID)
	return us.store.set([]byte(key), raw)
}

// List returns the company's records with Timestamp >= since. A zero since
// returns everything.
func (us *UsageStore) List(_ context.Context, companyID string, since time.Time) ([]datatypes.UsageRecord, error) {
	prefix := []byte(usageKeyPrefix + companyID + "/")
	var out []datatypes.UsageRecord
	err := us.store.scanPrefix(prefix, func(value []byte) error {
		var rec datatypes.UsageRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("corrupt usage record: %w", err)
		}
		if since.IsZero() || !rec.Timestamp.Before(since) {
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stats aggregates the company's usage since the given time.
func (us *UsageStore) Stats(ctx context.Context, companyID string, since time.Time) (datatypes.UsageStats, error) {
	records, err := us.List(ctx, companyID, since)
	if err != nil {
		return datatypes.UsageStats{}, err
	}
	stats := aggregate(records)
	stats.Since = since
	return stats, nil
}

// ModelStats aggregates the company's usage of one model across all time.
func (us *UsageStore) ModelStats(ctx context.Context, companyID, model string) (datatypes.UsageStats, error) {
	records, err := us.List(ctx, companyID, time.Time{})
	if err != nil {
		return datatypes.UsageStats{}, err
	}
	filtered := records[:0:0]
	for _, rec := range records {
		if rec.Model == model {
			filtered = append(filtered, rec)
		}
	}
	return aggregate(filtered), nil
}

// Overview aggregates all of the company's usage and ranks the most-used
// models.
func (us *UsageStore) Overview(ctx context.Context, companyID string) (datatypes.UsageStats, error) {
	records, err := us.List(ctx, companyID, time.Time{})
	if err != nil {
		return datatypes.UsageStats{}, err
	}
	stats := aggregate(records)

	type modelAgg struct{ requests, tokens int }
	byModel := make(map[string]*modelAgg)
	for _, rec := range records {
		agg := byModel[rec.Model]
		if agg == nil {
			agg = &modelAgg{}
			byModel[rec.Model] = agg
		}
		agg.requests++
		agg.tokens += rec.Tokens
	}
	for model, agg := range byModel {
		stats.TopModels = append(stats.TopModels, datatypes.ModelUsageEntry{
			Model:    model,
			Requests: agg.requests,
			Tokens:   agg.tokens,
		})
	}
	sort.Slice(stats.TopModels, func(i, j int) bool {
		if stats.TopModels[i].Requests != stats.TopModels[j].Requests {
			return stats.TopModels[i].Requests > stats.TopModels[j].Requests
		}
		return stats.TopModels[i].Model < stats.TopModels[j].Model
	})
	if len(stats.TopModels) > 10 {
		stats.TopModels = stats.TopModels[:10]
	}
	return stats, nil
}

func aggregate(records []datatypes.UsageRecord) datatypes.UsageStats {
	stats := datatypes.UsageStats{
		ByAction: make(map[string]int),
		ByModel:  make(map[string]int),
	}
	for _, rec := range records {
		stats.TotalRequests++
		stats.TotalTokens += rec.Tokens
		if rec.Success {
			stats.SuccessCount++
		} else {
			stats.FailureCount++
		}
		if rec.FallbackProvider != "" {
			stats.FallbackCount++
		}
		stats.ByAction[string(rec.Action)]++
		stats.ByModel[rec.Model]++
	}
	return stats
}
