// Package phonemizer implements the fallback word-to-IPA conversion used
// when no dictionary pack covers a word: an adapter over the espeak-ng
// command-line binary.
package phonemizer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "phonemizer")

// Phonemizer converts a single word or short phrase to IPA. It satisfies
// resolver.Phonemizer.
type Phonemizer interface {
	Phonemize(word string) (string, error)
}

// EspeakPhonemizer shells out to "espeak-ng --ipa" per word, matching the
// original's phonemizer-library call into the espeak backend.
type EspeakPhonemizer struct {
	binary   string
	language string
	timeout  time.Duration
}

func NewEspeakPhonemizer(binary, language string, timeout time.Duration) *EspeakPhonemizer {
	if binary == "" {
		binary = "espeak-ng"
	}
	if language == "" {
		language = "en-us"
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &EspeakPhonemizer{binary: binary, language: language, timeout: timeout}
}

func (p *EspeakPhonemizer) Phonemize(word string) (string, error) {
	if strings.TrimSpace(word) == "" {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary, "--ipa", "-q", "-v", p.language, word)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		log.WithError(err).WithField("word", word).Warn("espeak-ng invocation failed")
		return "", fmt.Errorf("phonemizer: espeak-ng: %w: %s", err, stderr.String())
	}
	ipa := strings.TrimSpace(stdout.String())
	if ipa == "" {
		return "", fmt.Errorf("phonemizer: empty output for %q", word)
	}
	return strings.Join(strings.Fields(ipa), " "), nil
}
