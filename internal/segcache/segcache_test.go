package segcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	c, err := New(t.TempDir(), 0, 0)
	require.NoError(t, err)

	require.NoError(t, c.Put("deadbeef01", []byte("audio bytes"), "audio/ogg"))

	data, meta, ok := c.Get("deadbeef01")
	require.True(t, ok)
	assert.Equal(t, []byte("audio bytes"), data)
	assert.Equal(t, "deadbeef01", meta.CacheKey)
	assert.EqualValues(t, len("audio bytes"), meta.SizeBytes)
}

func TestGetMissingKey(t *testing.T) {
	c, err := New(t.TempDir(), 0, 0)
	require.NoError(t, err)

	_, _, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestHasDoesNotAffectAbsence(t *testing.T) {
	c, err := New(t.TempDir(), 0, 0)
	require.NoError(t, err)
	assert.False(t, c.Has("nope"))

	require.NoError(t, c.Put("abcd1234", []byte("x"), "audio/ogg"))
	assert.True(t, c.Has("abcd1234"))
}

func TestPutEvictsUnderMaxBytes(t *testing.T) {
	c, err := New(t.TempDir(), 10, 0)
	require.NoError(t, err)

	require.NoError(t, c.Put("aaaa0001", []byte("0123456789"), "audio/ogg"))
	require.NoError(t, c.Put("bbbb0002", []byte("0123456789"), "audio/ogg"))

	// the byte budget only fits one ten-byte entry; the older one should
	// have been evicted to make room for the newer.
	assert.False(t, c.Has("aaaa0001"))
	assert.True(t, c.Has("bbbb0002"))
}

func TestRemoveEvictsImmediately(t *testing.T) {
	c, err := New(t.TempDir(), 0, 0)
	require.NoError(t, err)
	require.NoError(t, c.Put("cccc0003", []byte("x"), "audio/ogg"))
	assert.True(t, c.Has("cccc0003"))

	c.Remove("cccc0003")
	assert.False(t, c.Has("cccc0003"))
}

func TestLenAndSizeTrackEntries(t *testing.T) {
	c, err := New(t.TempDir(), 0, 0)
	require.NoError(t, err)
	require.NoError(t, c.Put("dddd0004", []byte("12345"), "audio/ogg"))
	require.NoError(t, c.Put("eeee0005", []byte("1234567890"), "audio/ogg"))

	assert.Equal(t, 2, c.Len())
	assert.EqualValues(t, 15, c.Size())
}

func TestReapStaleRemovesOldEntries(t *testing.T) {
	c, err := New(t.TempDir(), 0, 0)
	require.NoError(t, err)

	origNow := nowUnix
	defer func() { nowUnix = origNow }()

	nowUnix = func() int64 { return 1000 }
	require.NoError(t, c.Put("ffff0006", []byte("x"), "audio/ogg"))

	nowUnix = func() int64 { return 1000 + int64((8 * 24 * time.Hour).Seconds()) }
	removed := c.ReapStale(7 * 24 * time.Hour)
	assert.Equal(t, 1, removed)
	assert.False(t, c.Has("ffff0006"))
}

func TestReapStaleKeepsFreshEntries(t *testing.T) {
	c, err := New(t.TempDir(), 0, 0)
	require.NoError(t, err)

	origNow := nowUnix
	defer func() { nowUnix = origNow }()

	nowUnix = func() int64 { return 1000 }
	require.NoError(t, c.Put("11110007", []byte("x"), "audio/ogg"))

	nowUnix = func() int64 { return 1000 + int64((1 * time.Hour).Seconds()) }
	removed := c.ReapStale(7 * 24 * time.Hour)
	assert.Equal(t, 0, removed)
	assert.True(t, c.Has("11110007"))
}
