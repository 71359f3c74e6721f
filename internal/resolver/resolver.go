// Package resolver applies pronunciation dictionary packs to segment text,
// falling back to an external phonemizer for unknown words and optionally
// recording those fallbacks for later promotion into an auto-learn pack.
package resolver

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pronouncex/ttsjobs/internal/dict"
	"github.com/pronouncex/ttsjobs/pkg/cache"
)

// espeakMemoTTL bounds how long a fallback-phonemizer result is memoized;
// long enough to absorb a burst of repeats of the same rare word within a
// single book, short enough that a dictionary promotion is picked up on
// the next process restart without manual invalidation.
const espeakMemoTTL = 30 * time.Minute

// DefaultPriority mirrors the original dictionary stack order: local
// overrides win, then accumulated auto-learned entries, then the
// domain-specific pack, then the general-English core pack.
var DefaultPriority = []string{"local_overrides", "auto_learn", "anime_en", "en_core"}

// Phonemizer produces an IPA/ARPAbet string for a single word it has no
// dictionary entry for. The eSpeak-exec adapter in internal/phonemizer
// implements this.
type Phonemizer interface {
	Phonemize(word string) (string, error)
}

// ResolveResult is the outcome of resolving one word or phrase token.
type ResolveResult struct {
	Surface  string
	Phonemes string
	Source   string // pack name, "fallback_espeak", "fallback_espeak_memo", or "unresolved"
}

// Resolver walks a configured stack of dictionary packs to annotate words
// and multi-word phrases with pronunciation overrides.
type Resolver struct {
	store      *dict.Store
	priority   []string
	phonemizer Phonemizer
	learner    *Learner
	memo       cache.Cache
}

func New(store *dict.Store, priority []string, phonemizer Phonemizer, learner *Learner) *Resolver {
	if len(priority) == 0 {
		priority = DefaultPriority
	}
	return &Resolver{store: store, priority: priority, phonemizer: phonemizer, learner: learner}
}

// WithMemo attaches a memoization cache for fallback-phonemizer lookups,
// so repeated out-of-dictionary words within the memo TTL skip the
// espeak-ng subprocess entirely.
func (r *Resolver) WithMemo(c cache.Cache) *Resolver {
	r.memo = c
	return r
}

var tokenRe = regexp.MustCompile(`[A-Za-z']+|[^A-Za-z'\s]+|\s+`)

// Resolve tokenizes text into words, punctuation, and whitespace runs,
// applies the phrase pass across consecutive word tokens, then resolves
// any remaining unmatched words individually, and returns the
// reconstructed text with phoneme overrides substituted in along with the
// list of resolutions that occurred (for timing/telemetry).
func (r *Resolver) Resolve(text string) (string, []ResolveResult, error) {
	tokens := tokenRe.FindAllString(text, -1)

	packs := r.loadPacks()
	phrases := buildPhraseIndex(packs)
	var results []ResolveResult
	var out strings.Builder

	i := 0
	for i < len(tokens) {
		if !isWordToken(tokens[i]) {
			out.WriteString(tokens[i])
			i++
			continue
		}
		phraseLen, res := matchPhrase(tokens, i, phrases)
		if phraseLen > 0 {
			out.WriteString(res.Phonemes)
			results = append(results, res)
			i += phraseLen
			continue
		}
		res, err := r.resolveWord(tokens[i], packs)
		if err != nil {
			return "", nil, err
		}
		out.WriteString(res.Phonemes)
		results = append(results, res)
		i++
	}
	return out.String(), results, nil
}

func isWordToken(tok string) bool {
	for _, r := range tok {
		if unicode.IsSpace(r) {
			return false
		}
		return unicode.IsLetter(r)
	}
	return false
}

type loadedPack struct {
	name    string
	words   map[string]string
	phrases []phraseEntry
}

type phraseEntry struct {
	words []string
	ipa   string
}

func (r *Resolver) loadPacks() []loadedPack {
	out := make([]loadedPack, 0, len(r.priority))
	for _, name := range r.priority {
		p := r.store.Get(name)
		if p == nil {
			continue
		}
		lp := loadedPack{name: name, words: p.Words}
		for phrase, ipa := range p.Phrases {
			lp.phrases = append(lp.phrases, phraseEntry{words: strings.Fields(strings.ToLower(phrase)), ipa: ipa})
		}
		out = append(out, lp)
	}
	return out
}

// rankedPhrase is one pack's phrase candidate tagged with its pack's
// position in the priority stack, so the global candidate list can tie-break
// on priority without re-consulting the pack order.
type rankedPhrase struct {
	phraseEntry
	packName string
	packRank int
}

// buildPhraseIndex merges every pack's phrases into one candidate list
// sorted by token count descending, tie-broken by pack priority (lower
// packRank, i.e. higher-priority pack, wins). This matches the spec's
// matching order: longest match first across all packs, priority only
// decides between equal-length candidates.
func buildPhraseIndex(packs []loadedPack) []rankedPhrase {
	var all []rankedPhrase
	for rank, pack := range packs {
		for _, phrase := range pack.phrases {
			all = append(all, rankedPhrase{phraseEntry: phrase, packName: pack.name, packRank: rank})
		}
	}
	sort.SliceStable(all, func(a, b int) bool {
		if len(all[a].words) != len(all[b].words) {
			return len(all[a].words) > len(all[b].words)
		}
		return all[a].packRank < all[b].packRank
	})
	return all
}

// matchPhrase walks the globally-sorted phrase candidate list, longest
// first, for a match starting at token index i. Returns the number of
// source tokens consumed (0 if no phrase matched).
func matchPhrase(tokens []string, i int, phrases []rankedPhrase) (int, ResolveResult) {
	for _, phrase := range phrases {
		if n := matchPhraseAt(tokens, i, phrase.words); n > 0 {
			return n, ResolveResult{
				Surface:  strings.Join(tokens[i:i+n], ""),
				Phonemes: phrase.ipa,
				Source:   phrase.packName,
			}
		}
	}
	return 0, ResolveResult{}
}

// matchPhraseAt checks whether the given lowercase phrase words appear
// starting at token index i, consecutive modulo whitespace tokens, and
// returns the number of tokens consumed (0 if it doesn't match).
func matchPhraseAt(tokens []string, i int, words []string) int {
	pos := i
	for wi, w := range words {
		if pos >= len(tokens) || !isWordToken(tokens[pos]) || strings.ToLower(tokens[pos]) != w {
			return 0
		}
		pos++
		if wi < len(words)-1 {
			if pos < len(tokens) && strings.TrimSpace(tokens[pos]) == "" {
				pos++
			} else {
				return 0
			}
		}
	}
	return pos - i
}

func (r *Resolver) resolveWord(word string, packs []loadedPack) (ResolveResult, error) {
	lower := strings.ToLower(word)
	for _, pack := range packs {
		if ipa, ok := pack.words[lower]; ok {
			return ResolveResult{Surface: word, Phonemes: ipa, Source: pack.name}, nil
		}
	}
	if r.phonemizer == nil {
		return ResolveResult{Surface: word, Phonemes: word, Source: "unresolved"}, nil
	}

	ctx := context.Background()
	if r.memo != nil {
		if v, ok := r.memo.Get(ctx, lower); ok {
			if ipa, ok := v.(string); ok {
				return ResolveResult{Surface: word, Phonemes: ipa, Source: "fallback_espeak_memo"}, nil
			}
		}
	}

	ipa, err := r.phonemizer.Phonemize(lower)
	if err != nil {
		return ResolveResult{}, err
	}
	if r.memo != nil {
		_ = r.memo.Set(ctx, lower, ipa, espeakMemoTTL)
	}
	if r.learner != nil && r.shouldAutoLearn(lower, packs) {
		r.learner.Record(lower, ipa)
	}
	return ResolveResult{Surface: word, Phonemes: ipa, Source: "fallback_espeak"}, nil
}

// Lookup checks a single key against the priority stack without
// consulting the fallback phonemizer, for the GET /v1/dicts/lookup
// endpoint. Phrase keys (containing whitespace) are matched case-
// insensitively against each pack's phrase words; word keys are matched
// case-insensitively, mirroring resolveWord.
func (r *Resolver) Lookup(key string) (phonemes, sourcePack string, ok bool) {
	packs := r.loadPacks()
	isPhrase := strings.ContainsAny(key, " \t")
	lower := strings.ToLower(key)
	for _, pack := range packs {
		if isPhrase {
			for _, ph := range pack.phrases {
				if strings.Join(ph.words, " ") == strings.ToLower(key) {
					return ph.ipa, pack.name, true
				}
			}
			continue
		}
		if ipa, found := pack.words[lower]; found {
			return ipa, pack.name, true
		}
	}
	return "", "", false
}

const minAutoLearnLen = 3

// shouldAutoLearn mirrors the original gating: only alphabetic words of
// minimum length that no higher-priority pack already covers.
func (r *Resolver) shouldAutoLearn(word string, packs []loadedPack) bool {
	if len(word) < minAutoLearnLen {
		return false
	}
	for _, ch := range word {
		if !unicode.IsLetter(ch) {
			return false
		}
	}
	for _, pack := range packs {
		if pack.name == "auto_learn" {
			continue
		}
		if _, ok := pack.words[word]; ok {
			return false
		}
	}
	return true
}
