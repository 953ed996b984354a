package cache

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alinavoice/alina/pkg/errorsx"
	"github.com/alinavoice/alina/pkg/phone"
)

// DefaultTTL is how long an entry stays valid unless overridden.
const DefaultTTL = time.Hour

// IDKeyPrefix marks synthetic keys that must never be fuzzy-matched.
const IDKeyPrefix = "ids:"

type Entry[V any] struct {
	Value    V         `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

// Cache is a TTL map mirrored to a JSON snapshot on disk after every
// write. Phone-shaped keys are stored both raw and digits-only so a
// later lookup matches on the last ten digits of the phone portion;
// a "|"-delimited scope suffix must match exactly, and ids:-prefixed
// keys are exact-match only.
type Cache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	path    string
	logger  *slog.Logger
	now     func() time.Time
	entries map[string]Entry[V]
}

func New[V any](ttl time.Duration, path string, logger *slog.Logger) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache[V]{
		ttl:     ttl,
		path:    path,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]Entry[V]),
	}
}

// Restore loads the snapshot written by a previous process. A missing
// file is a clean start, not an error.
func (c *Cache[V]) Restore() error {
	if c.path == "" {
		return nil
	}
	b, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errorsx.Wrap(err, errorsx.ReasonCacheRestore, "read snapshot %s", c.path)
	}
	var entries map[string]Entry[V]
	if err := json.Unmarshal(b, &entries); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCacheRestore, "decode snapshot %s", c.path)
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	c.logger.Info("cache_restored", "path", c.path, "entries", len(entries))
	return nil
}

// splitKey separates the phone portion of a key from its scope
// suffix. Composite keys like "<caller>|<affiliate>|<family>" fuzzy
// match on the caller alone; the suffix must match exactly so one
// affiliate's riders are never served under another.
func splitKey(key string) (phonePart, suffix string) {
	if i := strings.IndexByte(key, '|'); i >= 0 {
		return key[:i], key[i:]
	}
	return key, ""
}

// Set stores value under key. For phone-shaped keys the digits-only
// form is written as well so fuzzy lookup always hits.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	e := Entry[V]{Value: value, StoredAt: c.now()}
	c.entries[key] = e
	if !strings.HasPrefix(key, IDKeyPrefix) {
		phonePart, suffix := splitKey(key)
		if digits := phone.Digits(phonePart); digits != "" && digits+suffix != key {
			c.entries[digits+suffix] = e
		}
	}
	c.mu.Unlock()
	c.snapshot()
}

// Get looks up key in three tiers: exact, last-ten-digits of the
// phone portion with an exactly matching scope suffix, miss. Expired
// entries are removed on the way.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V

	if e, ok := c.entries[key]; ok {
		if c.fresh(e) {
			return e.Value, true
		}
		delete(c.entries, key)
	}
	if strings.HasPrefix(key, IDKeyPrefix) {
		return zero, false
	}
	phonePart, suffix := splitKey(key)
	digits := phone.Digits(phonePart)
	if len(digits) < 10 {
		return zero, false
	}
	tail := digits[len(digits)-10:]
	for k, e := range c.entries {
		if strings.HasPrefix(k, IDKeyPrefix) {
			continue
		}
		kPhone, kSuffix := splitKey(k)
		if kSuffix != suffix {
			continue
		}
		kd := phone.Digits(kPhone)
		if len(kd) < 10 || kd[len(kd)-10:] != tail {
			continue
		}
		if !c.fresh(e) {
			delete(c.entries, k)
			continue
		}
		return e.Value, true
	}
	return zero, false
}

// Sweep drops every expired entry and snapshots if anything changed.
func (c *Cache[V]) Sweep() {
	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if !c.fresh(e) {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()
	if removed > 0 {
		c.snapshot()
	}
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) fresh(e Entry[V]) bool {
	return c.now().Sub(e.StoredAt) < c.ttl
}

func (c *Cache[V]) snapshot() {
	if c.path == "" {
		return
	}
	c.mu.Lock()
	b, err := json.Marshal(c.entries)
	c.mu.Unlock()
	if err != nil {
		c.logger.Error("cache_snapshot_failed", "path", c.path, "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		c.logger.Error("cache_snapshot_failed", "path", c.path, "error", err)
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		c.logger.Error("cache_snapshot_failed", "path", c.path, "error", err)
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		c.logger.Error("cache_snapshot_failed", "path", c.path, "error", err)
	}
}

// IDKey builds the synthetic exact-match key for an affiliate pair.
func IDKey(familyID, affiliateID int) string {
	return IDKeyPrefix + strconv.Itoa(familyID) + ":" + strconv.Itoa(affiliateID)
}
