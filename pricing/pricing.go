// Package pricing is the pricing resolver (spec §4.D): a three-tier
// read (process memo → store cache → static pricebook) and the integer
// cost-derivation formula usage metering relies on for deterministic,
// drift-free totals. The memoization tier follows the same
// cachedSecret{Value, ExpiresAt}-under-RWMutex idiom the teacher corpus
// uses for other short-TTL in-process caches; no ecosystem cache library
// fits a 5-minute in-process memo this small, so the stdlib sync
// primitives are used directly (see design ledger).
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/clock"
	"github.com/shreedharn/bedrock-cost-keeper/store"
)

// memoTTL is how long a resolved price is trusted in the process-local
// memo before falling back to the store tier (spec §4.D).
const memoTTL = 5 * time.Minute

// Store is the pricing subset of store.Store this package depends on.
type Store interface {
	GetCachedPrice(ctx context.Context, modelID, date, region string) (*store.PriceEntry, error)
	PutCachedPrice(ctx context.Context, modelID, date, region string, entry *store.PriceEntry, ttlSeconds int) error
}

type memoEntry struct {
	value     *store.PriceEntry
	expiresAt time.Time
}

// Resolver implements the three-tier price lookup and cost derivation.
type Resolver struct {
	mu    sync.RWMutex
	memo  map[string]memoEntry
	store Store
	clock clock.Clock
	book  map[string]*store.PriceEntry // static pricebook, keyed by model-id
}

// NewResolver builds a Resolver over a static pricebook loaded at startup.
func NewResolver(s Store, c clock.Clock, book map[string]*store.PriceEntry) *Resolver {
	return &Resolver{
		memo:  make(map[string]memoEntry),
		store: s,
		clock: c,
		book:  book,
	}
}

// LoadEntries reads the static pricebook file as a flat list. The label
// resolver indexes it by label; the cost resolver here indexes it by
// model-id — both views share the same on-disk source of truth.
func LoadEntries(path string) ([]*store.PriceEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pricing: reading pricebook %s: %w", path, err)
	}
	var entries []*store.PriceEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("pricing: parsing pricebook %s: %w", path, err)
	}
	return entries, nil
}

// LoadPricebook reads the static pricebook file and indexes it by
// model-id, mirroring the teacher's file-backed pricing config loader.
func LoadPricebook(path string) (map[string]*store.PriceEntry, error) {
	entries, err := LoadEntries(path)
	if err != nil {
		return nil, err
	}
	return IndexByModelID(entries), nil
}

// IndexByModelID is the view the cost resolver needs: identifier -> price.
func IndexByModelID(entries []*store.PriceEntry) map[string]*store.PriceEntry {
	book := make(map[string]*store.PriceEntry, len(entries))
	for _, e := range entries {
		book[e.ModelID] = e
	}
	return book
}

// IndexByLabel is the view the label resolver needs: label -> price entry.
func IndexByLabel(entries []*store.PriceEntry) map[string]*store.PriceEntry {
	book := make(map[string]*store.PriceEntry, len(entries))
	for _, e := range entries {
		book[e.Label] = e
	}
	return book
}

func memoKey(modelID, date, region string) string {
	if region == "" {
		return modelID + "|" + date
	}
	return modelID + "|" + date + "|" + region
}

// Resolve looks up the price for (modelID, date, region) leaf-first:
// process memo, then store cache, then static pricebook. Absence at all
// three tiers is a configuration error, not a client error.
func (r *Resolver) Resolve(ctx context.Context, modelID, date, region string) (*store.PriceEntry, error) {
	key := memoKey(modelID, date, region)
	now := r.clock.Now()

	r.mu.RLock()
	if m, ok := r.memo[key]; ok && now.Before(m.expiresAt) {
		r.mu.RUnlock()
		return m.value, nil
	}
	r.mu.RUnlock()

	if entry, err := r.store.GetCachedPrice(ctx, modelID, date, region); err == nil {
		r.remember(key, entry, now)
		return entry, nil
	}

	entry, ok := r.book[modelID]
	if !ok {
		return nil, apierr.Newf(apierr.CodeInvalidConfig, "pricing-missing: no price available for model %q", modelID)
	}
	r.remember(key, entry, now)
	_ = r.store.PutCachedPrice(ctx, modelID, date, region, entry, int(memoTTL.Seconds())*12) // store tier outlives the process memo
	return entry, nil
}

func (r *Resolver) remember(key string, entry *store.PriceEntry, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo[key] = memoEntry{value: entry, expiresAt: now.Add(memoTTL)}
}

// CostMicros derives cost from token counts and a resolved price using
// integer arithmetic with floor-toward-zero division, matching spec §4.D
// exactly so independent implementations never drift.
func CostMicros(inputTokens, outputTokens int64, price *store.PriceEntry) int64 {
	inputMicros := (inputTokens * price.InputPriceMicrosPer1M) / 1_000_000
	outputMicros := (outputTokens * price.OutputPriceMicrosPer1M) / 1_000_000
	return inputMicros + outputMicros
}
