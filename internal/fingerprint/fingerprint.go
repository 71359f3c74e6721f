// Package fingerprint computes the deterministic cache keys that make
// segment synthesis and job merges idempotent and content-addressed.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// SegmentKeyInput is every input that changes a segment's rendered audio.
// Two segments with identical SegmentKeyInput values always produce
// byte-identical output and may safely share a cache entry.
type SegmentKeyInput struct {
	NormalizedText  string
	ModelID         string
	VoiceID         string
	PackVersions    map[string]string
	ReadingProfile  any
	CompilerVersion string
	PhonemeMode     string
}

// SegmentKey returns the hex-encoded sha256 cache key for a segment,
// built by NUL-joining the normalized text, model, voice, sorted pack
// versions, canonical reading profile JSON, compiler version, and
// phoneme mode, in that fixed order.
func SegmentKey(in SegmentKeyInput) (string, error) {
	profileJSON, err := canonicalJSON(in.ReadingProfile)
	if err != nil {
		return "", err
	}
	parts := []string{
		in.NormalizedText,
		in.ModelID,
		in.VoiceID,
		sortedVersionsString(in.PackVersions),
		profileJSON,
		in.CompilerVersion,
		in.PhonemeMode,
	}
	return hashJoin(parts), nil
}

// MergeKeyInput is every input that changes a job's merged audio output.
// It is deliberately job-independent: two different jobs whose segments
// produced identical cache keys, merged at the same pause_scale, hash to
// the same fingerprint and share one merged file on disk. ModelID, VoiceID,
// and pack versions don't need to appear here directly — they already
// flow into each segment's own cache_key, so any change in them changes
// SegmentCacheKeys and therefore the merge fingerprint too.
type MergeKeyInput struct {
	SegmentCacheKeys []string // in job order
	PauseScale       float64
}

// MergeKey returns the hex-encoded sha256 fingerprint for a job's merged
// output: sha256(join(ordered cache_keys) || pause_scale).
func MergeKey(in MergeKeyInput) string {
	parts := []string{
		strings.Join(in.SegmentCacheKeys, ","),
		strconv.FormatFloat(in.PauseScale, 'f', -1, 64),
	}
	return hashJoin(parts)
}

func sortedVersionsString(versions map[string]string) string {
	names := make([]string, 0, len(versions))
	for n := range versions {
		names = append(names, n)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, n := range names {
		pairs = append(pairs, n+"="+versions[n])
	}
	return strings.Join(pairs, ",")
}

func canonicalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	// round-trip through a generic map so key order is always sorted,
	// regardless of the concrete struct/map type passed in.
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func hashJoin(parts []string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
