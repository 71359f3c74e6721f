package synth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFishAudioConfigDefaults(t *testing.T) {
	cfg := FishAudioConfig{}.withDefaults()
	assert.Equal(t, "s1", cfg.Model)
	assert.Equal(t, 48000, cfg.SampleRate)
	assert.Positive(t, cfg.Timeout)
}

func TestFishAudioConfigKeepsExplicitValues(t *testing.T) {
	cfg := FishAudioConfig{Model: "custom", SampleRate: 24000}.withDefaults()
	assert.Equal(t, "custom", cfg.Model)
	assert.Equal(t, 24000, cfg.SampleRate)
}

func TestFishAudioSynthesizeRequiresAPIKey(t *testing.T) {
	f := NewFishAudioSynthesizer(FishAudioConfig{}, nil)
	_, err := f.Synthesize(context.Background(), Request{Text: "hi"})
	require.Error(t, err)
}

func TestFishAudioSynthesizerCapabilityFlags(t *testing.T) {
	f := NewFishAudioSynthesizer(FishAudioConfig{APIKey: "key"}, []string{"voice-model"})
	assert.True(t, f.SupportsSpeakerSelection("voice-model"))
	assert.False(t, f.SupportsSpeakerSelection("other-model"))
	assert.False(t, f.SupportsPhonemes("voice-model"))
}
