package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentKeyDeterministic(t *testing.T) {
	in := SegmentKeyInput{
		NormalizedText:  "hello world",
		ModelID:         "m1",
		VoiceID:         "v1",
		PackVersions:    map[string]string{"en_core": "1.0", "anime_en": "2.0"},
		CompilerVersion: "c1",
		PhonemeMode:     "auto",
	}
	k1, err := SegmentKey(in)
	require.NoError(t, err)
	k2, err := SegmentKey(in)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestSegmentKeyPackVersionOrderInsensitive(t *testing.T) {
	base := SegmentKeyInput{NormalizedText: "x", ModelID: "m", VoiceID: "v"}
	a := base
	a.PackVersions = map[string]string{"a": "1", "b": "2"}
	b := base
	b.PackVersions = map[string]string{"b": "2", "a": "1"}

	ka, err := SegmentKey(a)
	require.NoError(t, err)
	kb, err := SegmentKey(b)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
}

func TestSegmentKeyChangesWithText(t *testing.T) {
	base := SegmentKeyInput{NormalizedText: "hello", ModelID: "m", VoiceID: "v"}
	changed := base
	changed.NormalizedText = "goodbye"

	k1, err := SegmentKey(base)
	require.NoError(t, err)
	k2, err := SegmentKey(changed)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestSegmentKeyChangesWithReadingProfile(t *testing.T) {
	base := SegmentKeyInput{NormalizedText: "hello", ModelID: "m", ReadingProfile: map[string]any{"speed": 1.0}}
	changed := base
	changed.ReadingProfile = map[string]any{"speed": 1.5}

	k1, err := SegmentKey(base)
	require.NoError(t, err)
	k2, err := SegmentKey(changed)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestMergeKeyDeterministicAndOrderSensitive(t *testing.T) {
	a := MergeKeyInput{
		SegmentCacheKeys: []string{"seg1", "seg2"},
		PauseScale:       1.0,
	}
	b := a
	b.SegmentCacheKeys = []string{"seg2", "seg1"}

	assert.Equal(t, MergeKey(a), MergeKey(a))
	assert.NotEqual(t, MergeKey(a), MergeKey(b))
}

func TestMergeKeyChangesWithPauseScale(t *testing.T) {
	a := MergeKeyInput{SegmentCacheKeys: []string{"seg1", "seg2"}, PauseScale: 1.0}
	b := a
	b.PauseScale = 1.3

	assert.NotEqual(t, MergeKey(a), MergeKey(b))
}

func TestMergeKeyIndependentOfJobIdentity(t *testing.T) {
	// MergeKeyInput intentionally has no JobID/ModelID/VoiceID field: the
	// fingerprint must depend only on ordered cache keys and pause_scale.
	a := MergeKeyInput{SegmentCacheKeys: []string{"seg1", "seg2"}, PauseScale: 1.0}
	b := MergeKeyInput{SegmentCacheKeys: []string{"seg1", "seg2"}, PauseScale: 1.0}

	assert.Equal(t, MergeKey(a), MergeKey(b))
}
