package synth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// FishAudioConfig configures the Fish Audio hosted TTS API as an
// alternative Synthesizer backend, for deployments that want a managed
// model instead of running the HTTP synthesis backend themselves.
type FishAudioConfig struct {
	APIKey      string
	ReferenceID string
	Model       string
	SampleRate  int
	Temperature float64
	TopP        float64
	Timeout     time.Duration
}

func (c FishAudioConfig) withDefaults() FishAudioConfig {
	if c.Model == "" {
		c.Model = "s1"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 48000
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// FishAudioSynthesizer calls the Fish Audio REST API directly, requesting
// raw 16-bit PCM output so its response body can feed the codec package
// without any intermediate decode step.
type FishAudioSynthesizer struct {
	client        *resty.Client
	cfg           FishAudioConfig
	phonemeModels map[string]bool
	speakerModels map[string]bool
}

func NewFishAudioSynthesizer(cfg FishAudioConfig, speakerModels []string) *FishAudioSynthesizer {
	cfg = cfg.withDefaults()
	client := resty.New().
		SetBaseURL("https://api.fish.audio").
		SetTimeout(cfg.Timeout).
		SetHeader("Authorization", "Bearer "+cfg.APIKey)
	return &FishAudioSynthesizer{
		client:        client,
		cfg:           cfg,
		phonemeModels: map[string]bool{},
		speakerModels: toSet(speakerModels),
	}
}

type fishAudioRequest struct {
	Text        string  `json:"text"`
	Model       string  `json:"model"`
	ReferenceID string  `json:"reference_id,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	Normalize   bool    `json:"normalize"`
}

func (f *FishAudioSynthesizer) Synthesize(ctx context.Context, req Request) (Result, error) {
	if f.cfg.APIKey == "" {
		return Result{}, fmt.Errorf("synth: fishaudio: api key not configured")
	}
	body := fishAudioRequest{
		Text:        req.Text,
		Model:       f.cfg.Model,
		ReferenceID: f.cfg.ReferenceID,
		Temperature: f.cfg.Temperature,
		TopP:        f.cfg.TopP,
		Format:      "pcm",
		SampleRate:  f.cfg.SampleRate,
		Normalize:   true,
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/v1/tts")
	if err != nil {
		log.WithError(err).Warn("fishaudio request failed")
		return Result{}, fmt.Errorf("synth: fishaudio: request: %w", err)
	}
	if resp.IsError() {
		log.WithFields(logrus.Fields{"status": resp.Status()}).Warn("fishaudio backend error")
		return Result{}, fmt.Errorf("synth: fishaudio: backend returned %s", resp.Status())
	}

	pcm := resp.Body()
	if len(pcm) == 0 {
		return Result{}, fmt.Errorf("synth: fishaudio: empty audio response")
	}
	return Result{PCM: pcm, SampleRate: f.cfg.SampleRate, Channels: 1}, nil
}

func (f *FishAudioSynthesizer) SupportsPhonemes(modelID string) bool {
	return f.phonemeModels[modelID]
}

func (f *FishAudioSynthesizer) SupportsSpeakerSelection(modelID string) bool {
	return f.speakerModels[modelID]
}
