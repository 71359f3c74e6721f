// Package synth defines the Synthesizer capability boundary and a
// resty-based HTTP adapter for it: the job manager never talks to a
// model runtime directly, only through this interface, so swapping the
// backing TTS engine never touches orchestration code.
package synth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "synth")

// Request is one segment's synthesis input.
type Request struct {
	Text          string
	PhonemeText   string
	UsePhonemes   bool
	ModelID       string
	VoiceID       string
}

// Result is raw PCM audio plus the sample rate it was produced at; the
// codec package handles everything downstream of this.
type Result struct {
	PCM        []byte
	SampleRate int
	Channels   int
	UsedPhonemes bool
}

// Synthesizer renders one segment's text to PCM audio. Implementations
// may pool expensive per-(model,voice) backend handles internally.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Result, error)
	SupportsPhonemes(modelID string) bool
	SupportsSpeakerSelection(modelID string) bool
}

// HTTPSynthesizer calls a standalone model-serving backend over HTTP,
// the Go-idiomatic equivalent of wrapping a local model runtime: model
// selection and batching live on the server side of this boundary, while
// the phoneme/speaker capability flags come from the model lists passed
// to NewHTTPSynthesizer.
type HTTPSynthesizer struct {
	client        *resty.Client
	baseURL       string
	phonemeModels map[string]bool
	speakerModels map[string]bool
}

func NewHTTPSynthesizer(baseURL string, timeout time.Duration, phonemeModels, speakerModels []string) *HTTPSynthesizer {
	client := resty.New().SetBaseURL(baseURL).SetTimeout(timeout).SetRetryCount(0)
	s := &HTTPSynthesizer{
		client:        client,
		baseURL:       baseURL,
		phonemeModels: toSet(phonemeModels),
		speakerModels: toSet(speakerModels),
	}
	return s
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

type synthesizeRequestBody struct {
	Text        string `json:"text"`
	PhonemeText string `json:"phoneme_text,omitempty"`
	UsePhonemes bool   `json:"use_phonemes"`
	ModelID     string `json:"model_id"`
	VoiceID     string `json:"voice_id,omitempty"`
}

type synthesizeResponseBody struct {
	PCMBase64    string `json:"pcm_base64"`
	SampleRate   int    `json:"sample_rate"`
	Channels     int    `json:"channels"`
	UsedPhonemes bool   `json:"used_phonemes"`
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, req Request) (Result, error) {
	usePhonemes := req.PhonemeText != "" && s.SupportsPhonemes(req.ModelID)
	body := synthesizeRequestBody{
		Text:        req.Text,
		PhonemeText: req.PhonemeText,
		UsePhonemes: usePhonemes,
		ModelID:     req.ModelID,
	}
	if req.VoiceID != "" && s.SupportsSpeakerSelection(req.ModelID) {
		body.VoiceID = req.VoiceID
	}

	var out synthesizeResponseBody
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/synthesize")
	if err != nil {
		log.WithError(err).WithField("model_id", req.ModelID).Warn("synthesize request failed")
		return Result{}, fmt.Errorf("synth: request: %w", err)
	}
	if resp.IsError() {
		log.WithFields(logrus.Fields{"model_id": req.ModelID, "status": resp.Status()}).Warn("synthesize backend error")
		return Result{}, fmt.Errorf("synth: backend returned %s: %s", resp.Status(), resp.String())
	}
	pcm, err := decodeBase64PCM(out.PCMBase64)
	if err != nil {
		return Result{}, fmt.Errorf("synth: decode pcm: %w", err)
	}
	return Result{PCM: pcm, SampleRate: out.SampleRate, Channels: out.Channels, UsedPhonemes: out.UsedPhonemes}, nil
}

func (s *HTTPSynthesizer) SupportsPhonemes(modelID string) bool {
	return s.phonemeModels[modelID]
}

func (s *HTTPSynthesizer) SupportsSpeakerSelection(modelID string) bool {
	return s.speakerModels[modelID]
}
