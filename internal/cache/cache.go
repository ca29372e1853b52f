// Package cache implements Cache (C11): a content-hash and contract-id
// indexed cache with negative caching of model abstentions. Entries are
// immutable once written; negative entries carry a short TTL. Grounded on
// the teacher's internal/driven/context_manager.go TTL/age-based eviction,
// generalized from one manager-wide MaxAgeHours to a per-entry TTL.
package cache

import (
	"sync"
	"time"

	"github.com/atlas-codex/atlas-codex/internal/models"
)

// entry wraps a cached value with its insertion time and TTL; a zero TTL
// means "never expires" (content-digest and contract entries, spec §4.11:
// "cache entries are immutable"). Result entries carry the configured
// result TTL and abstention markers the negative TTL.
type entry[T any] struct {
	value     T
	insertedAt time.Time
	ttl       time.Duration
}

func (e entry[T]) expired(now time.Time) bool {
	if e.ttl <= 0 {
		return false
	}
	return now.Sub(e.insertedAt) > e.ttl
}

// shard[T] is a mutex-protected map, the unit both ContentCache,
// ContractCache and ResultCache are built from.
type shard[T any] struct {
	mu   sync.RWMutex
	data map[string]entry[T]
}

func newShard[T any]() *shard[T] {
	return &shard[T]{data: make(map[string]entry[T])}
}

func (s *shard[T]) get(key string) (T, bool) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	var zero T
	if !ok {
		return zero, false
	}
	if e.expired(time.Now()) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

func (s *shard[T]) put(key string, value T, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Immutability (spec §4.11): a key already holding a non-expired
	// positive entry is never overwritten by a later write racing behind
	// it; content-addressed keys make this safe since two writers computing
	// the same key computed the same content.
	if existing, ok := s.data[key]; ok && !existing.expired(time.Now()) {
		return
	}
	s.data[key] = entry[T]{value: value, insertedAt: time.Now(), ttl: ttl}
}

func (s *shard[T]) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// AbstainMarker is stored in place of a real contract when the Contract
// Generator abstained, so a later identical request can short-circuit
// without recomputation (spec §4.11, open-question decision in DESIGN.md:
// keyed by content-hash, not URL).
type AbstainMarker struct {
	Reason string
}

// ContractEntry is either a real contract or an abstention marker.
type ContractEntry struct {
	Contract *models.SchemaContract
	Abstain  *AbstainMarker
}

// Cache composes the three content-addressed caches spec §4.11 names.
type Cache struct {
	content  *shard[string] // content-hash -> parsed AnchorIndex digest
	contract *shard[ContractEntry] // (query-hash, content-hash) -> contract | abstain
	result   *shard[models.ExtractionResult] // idempotency-key -> final result

	negativeTTL time.Duration
	resultTTL   time.Duration
}

// New constructs a Cache with the given TTLs for negative (abstention) and
// result entries (spec §4.11 default negative TTL: 1h).
func New(negativeTTL, resultTTL time.Duration) *Cache {
	if negativeTTL <= 0 {
		negativeTTL = time.Hour
	}
	return &Cache{
		content:     newShard[string](),
		contract:    newShard[ContractEntry](),
		result:      newShard[models.ExtractionResult](),
		negativeTTL: negativeTTL,
		resultTTL:   resultTTL,
	}
}

// PutContentDigest records a content-hash -> parsed AnchorIndex digest
// mapping. Positive entries never expire (spec §4.11: "cache entries are
// immutable").
func (c *Cache) PutContentDigest(contentHash, digest string) {
	c.content.put(contentHash, digest, 0)
}

// GetContentDigest looks up a previously indexed digest.
func (c *Cache) GetContentDigest(contentHash string) (string, bool) {
	return c.content.get(contentHash)
}

// contractKey combines query-hash and content-hash per spec §4.11's
// "(query-hash, content-hash) -> contract" key shape.
func contractKey(queryHash, contentHash string) string {
	return queryHash + "|" + contentHash
}

// PutContract caches a successfully generated contract (never expires).
func (c *Cache) PutContract(queryHash, contentHash string, contract models.SchemaContract) {
	c.contract.put(contractKey(queryHash, contentHash), ContractEntry{Contract: &contract}, 0)
}

// PutAbstain records a negative entry with the configured negative TTL
// (spec §4.11: "negative entries (abstentions) have short TTL").
func (c *Cache) PutAbstain(queryHash, contentHash, reason string) {
	c.contract.put(contractKey(queryHash, contentHash), ContractEntry{Abstain: &AbstainMarker{Reason: reason}}, c.negativeTTL)
}

// GetContract looks up a cached contract or abstention marker.
func (c *Cache) GetContract(queryHash, contentHash string) (ContractEntry, bool) {
	return c.contract.get(contractKey(queryHash, contentHash))
}

// PutResult caches a job's final ExtractionResult keyed by idempotency key
// (spec §3 IdempotencyKey invariant: "Equal keys must return the same
// result without recomputation").
func (c *Cache) PutResult(idempotencyKey string, result models.ExtractionResult) {
	c.result.put(idempotencyKey, result, c.resultTTL)
}

// GetResult looks up a cached result by idempotency key. A hit means all
// downstream computation is skipped and a CacheHit event should be emitted
// by the caller (spec §4.11).
func (c *Cache) GetResult(idempotencyKey string) (models.ExtractionResult, bool) {
	return c.result.get(idempotencyKey)
}

// DeleteResult evicts a result entry, used only for test/ops cache-busting;
// never called from the normal request path (entries are immutable in
// steady state).
func (c *Cache) DeleteResult(idempotencyKey string) {
	c.result.delete(idempotencyKey)
}
