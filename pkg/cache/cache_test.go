package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alinavoice/alina/pkg/logging"
)

type profile struct {
	Name string `json:"name"`
}

func TestExactLookup(t *testing.T) {
	c := New[profile](time.Hour, "", logging.Discard())
	c.Set("+13015551234", profile{Name: "Jane"})

	got, ok := c.Get("+13015551234")
	require.True(t, ok)
	assert.Equal(t, "Jane", got.Name)
}

func TestFuzzyLastTenDigitsLookup(t *testing.T) {
	c := New[profile](time.Hour, "", logging.Discard())
	c.Set("+13015551234", profile{Name: "Jane"})

	got, ok := c.Get("3015551234")
	require.True(t, ok)
	assert.Equal(t, "Jane", got.Name)

	got, ok = c.Get("13015551234")
	require.True(t, ok)
	assert.Equal(t, "Jane", got.Name)
}

func TestScopedKeysFuzzyMatchPhonePortionOnly(t *testing.T) {
	c := New[profile](time.Hour, "", logging.Discard())
	c.Set("+13854156545|21|1", profile{Name: "Jane"})

	// Same scope, formatted phone variant of the same number.
	got, ok := c.Get("+1 (385) 415-6545|21|1")
	require.True(t, ok)
	assert.Equal(t, "Jane", got.Name)

	// Different caller whose number only shares a seven digit tail.
	_, ok = c.Get("+12024156545|21|1")
	assert.False(t, ok)

	// Same caller under a different affiliate scope.
	_, ok = c.Get("+13854156545|22|1")
	assert.False(t, ok)

	// Scoped entries never answer bare phone lookups.
	_, ok = c.Get("+13854156545")
	assert.False(t, ok)
}

func TestIDKeysNeverFuzzyMatch(t *testing.T) {
	c := New[profile](time.Hour, "", logging.Discard())
	c.Set(IDKey(4, 21), profile{Name: "Barwood"})

	_, ok := c.Get("421")
	assert.False(t, ok)

	got, ok := c.Get(IDKey(4, 21))
	require.True(t, ok)
	assert.Equal(t, "Barwood", got.Name)
}

func TestExpiredEntryIsMissAndRemoved(t *testing.T) {
	c := New[profile](time.Hour, "", logging.Discard())
	c.Set("+13015551234", profile{Name: "Jane"})

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, ok := c.Get("+13015551234")
	assert.False(t, ok)

	c.Sweep()
	assert.Equal(t, 0, c.Len())
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client_cache.pkl")

	c := New[profile](time.Hour, path, logging.Discard())
	c.Set("+13015551234", profile{Name: "Jane"})
	c.Set(IDKey(4, 21), profile{Name: "Barwood"})

	restored := New[profile](time.Hour, path, logging.Discard())
	require.NoError(t, restored.Restore())

	got, ok := restored.Get("3015551234")
	require.True(t, ok)
	assert.Equal(t, "Jane", got.Name)

	got, ok = restored.Get(IDKey(4, 21))
	require.True(t, ok)
	assert.Equal(t, "Barwood", got.Name)
}

func TestRestoreMissingFileIsCleanStart(t *testing.T) {
	c := New[profile](time.Hour, filepath.Join(t.TempDir(), "nope.pkl"), logging.Discard())
	assert.NoError(t, c.Restore())
	assert.Equal(t, 0, c.Len())
}
