package resolver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pronouncex/ttsjobs/internal/dict"
	"github.com/pronouncex/ttsjobs/pkg/cache"
)

type fakePhonemizer struct {
	calls int
	ipa   string
	err   error
}

func (f *fakePhonemizer) Phonemize(word string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.ipa, nil
}

func newStoreWithPacks(t *testing.T, packs map[string]string) *dict.Store {
	t.Helper()
	dir := t.TempDir()
	for name, body := range packs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(body), 0o644))
	}
	s := dict.NewStore(dir)
	require.NoError(t, s.LoadAll())
	return s
}

func TestResolvePrefersHigherPriorityPack(t *testing.T) {
	store := newStoreWithPacks(t, map[string]string{
		"local_overrides": `{"entries":{"nova":"/OVERRIDE/"}}`,
		"en_core":         `{"entries":{"nova":"/core/"}}`,
	})
	r := New(store, DefaultPriority, nil, nil)

	out, results, err := r.Resolve("nova")
	require.NoError(t, err)
	assert.Equal(t, "/OVERRIDE/", out)
	require.Len(t, results, 1)
	assert.Equal(t, "local_overrides", results[0].Source)
}

func TestResolveMatchesLongestPhraseFirst(t *testing.T) {
	store := newStoreWithPacks(t, map[string]string{
		"en_core": `{"entries":{"good":"/g/","good morning":"/ɡʊd ˈmɔːrnɪŋ/"}}`,
	})
	r := New(store, DefaultPriority, nil, nil)

	out, results, err := r.Resolve("good morning")
	require.NoError(t, err)
	assert.Equal(t, "/ɡʊd ˈmɔːrnɪŋ/", out)
	require.Len(t, results, 1)
	assert.Equal(t, "en_core", results[0].Source)
}

func TestResolveMatchesLongestPhraseAcrossPacksBeforePriority(t *testing.T) {
	store := newStoreWithPacks(t, map[string]string{
		"local_overrides": `{"entries":{"senpai gojo":"X Y"}}`,
		"anime_en":        `{"entries":{"senpai gojo desu":"A B C"}}`,
	})
	r := New(store, DefaultPriority, nil, nil)

	out, results, err := r.Resolve("Senpai Gojo desu arrives.")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "anime_en", results[0].Source)
	assert.Equal(t, "A B C", results[0].Phonemes)
	assert.Equal(t, "A B C arrives.", out)
}

func TestResolveFallsBackToPhonemizer(t *testing.T) {
	store := newStoreWithPacks(t, map[string]string{"en_core": `{"entries":{}}`})
	fp := &fakePhonemizer{ipa: "/zɪb/"}
	r := New(store, DefaultPriority, fp, nil)

	out, results, err := r.Resolve("zib")
	require.NoError(t, err)
	assert.Equal(t, "/zɪb/", out)
	require.Len(t, results, 1)
	assert.Equal(t, "fallback_espeak", results[0].Source)
	assert.Equal(t, 1, fp.calls)
}

func TestResolveUnresolvedWithoutPhonemizer(t *testing.T) {
	store := newStoreWithPacks(t, map[string]string{"en_core": `{"entries":{}}`})
	r := New(store, DefaultPriority, nil, nil)

	out, results, err := r.Resolve("zib")
	require.NoError(t, err)
	assert.Equal(t, "zib", out)
	require.Len(t, results, 1)
	assert.Equal(t, "unresolved", results[0].Source)
}

func TestResolveMemoAvoidsRepeatedPhonemizerCalls(t *testing.T) {
	store := newStoreWithPacks(t, map[string]string{"en_core": `{"entries":{}}`})
	fp := &fakePhonemizer{ipa: "/zɪb/"}
	memo := cache.NewGoCache(cache.LocalConfig{MaxSize: 100, DefaultExpiration: time.Minute, CleanupInterval: time.Minute})
	r := New(store, DefaultPriority, fp, nil).WithMemo(memo)

	_, _, err := r.Resolve("zib zib zib")
	require.NoError(t, err)
	assert.Equal(t, 1, fp.calls)
}

func TestAutoLearnRecordsFallbackWhenEligible(t *testing.T) {
	store := newStoreWithPacks(t, map[string]string{"en_core": `{"entries":{}}`})
	fp := &fakePhonemizer{ipa: "/zɪb/"}
	learner := NewLearner(filepath.Join(t.TempDir(), "auto_learn.json"))
	r := New(store, DefaultPriority, fp, learner)

	_, _, err := r.Resolve("zib")
	require.NoError(t, err)
	require.NoError(t, learner.Flush())

	data, err := os.ReadFile(learner.path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "zib")
}

func TestAutoLearnSkipsShortWords(t *testing.T) {
	store := newStoreWithPacks(t, map[string]string{"en_core": `{"entries":{}}`})
	fp := &fakePhonemizer{ipa: "/ə/"}
	learner := NewLearner(filepath.Join(t.TempDir(), "auto_learn.json"))
	r := New(store, DefaultPriority, fp, learner)

	_, _, err := r.Resolve("ab")
	require.NoError(t, err)
	require.NoError(t, learner.Flush())

	_, statErr := os.Stat(learner.path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestResolvePreservesPunctuationAndWhitespace(t *testing.T) {
	store := newStoreWithPacks(t, map[string]string{"en_core": `{"entries":{"hi":"/haɪ/"}}`})
	r := New(store, DefaultPriority, nil, nil)

	out, _, err := r.Resolve("hi, world!")
	require.NoError(t, err)
	assert.Equal(t, "/haɪ/, world!", out)
}
