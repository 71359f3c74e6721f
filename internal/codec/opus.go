package codec

import (
	"fmt"

	"github.com/hraban/opus"
)

// OpusOptions controls the Opus encoder's bitrate/complexity tradeoff.
type OpusOptions struct {
	BitrateBps  int
	Complexity  int
	FrameSizeMs int
}

func (o OpusOptions) withDefaults() OpusOptions {
	if o.BitrateBps <= 0 {
		o.BitrateBps = 48000
	}
	if o.Complexity <= 0 {
		o.Complexity = 8
	}
	if o.FrameSizeMs <= 0 {
		o.FrameSizeMs = 20
	}
	return o
}

// OpusEncoder encodes PCM to OGG/Opus in-process via libopus bindings,
// used on the segment hot path where spinning up ffmpeg per segment
// would add unnecessary process overhead.
type OpusEncoder struct {
	opts OpusOptions
}

func NewOpusEncoder(opts OpusOptions) *OpusEncoder {
	return &OpusEncoder{opts: opts.withDefaults()}
}

const opusClockRate = 48000

// EncodeSegment resamples nothing (the synth backend is expected to
// produce 48kHz, 16/24kHz multiples Opus accepts directly) and packs
// fixed-size frames into a minimal single-stream OGG/Opus container.
func (e *OpusEncoder) EncodeSegment(pcm []int16, sampleRate, channels int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("codec: empty pcm buffer")
	}
	if channels != 1 && channels != 2 {
		channels = 1
	}

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("codec: new encoder: %w", err)
	}
	if err := enc.SetBitrate(e.opts.BitrateBps); err != nil {
		return nil, fmt.Errorf("codec: set bitrate: %w", err)
	}
	if err := enc.SetComplexity(e.opts.Complexity); err != nil {
		return nil, fmt.Errorf("codec: set complexity: %w", err)
	}

	frameSamples := sampleRate * e.opts.FrameSizeMs / 1000 * channels
	out := newOggWriter(randomSerial())
	out.writeHeaders(sampleRate, channels)

	packetBuf := make([]byte, 4000)
	total := len(pcm)
	for offset := 0; offset < total; offset += frameSamples {
		end := offset + frameSamples
		frame := pcm[offset:min(end, total)]
		if len(frame) < frameSamples {
			padded := make([]int16, frameSamples)
			copy(padded, frame)
			frame = padded
		}
		n, err := enc.Encode(frame, packetBuf)
		if err != nil {
			return nil, fmt.Errorf("codec: encode frame: %w", err)
		}
		samplesPerChannel := int64(frameSamples / channels)
		granuleDelta := samplesPerChannel * opusClockRate / int64(sampleRate)
		last := end >= total
		out.writeAudioPacket(append([]byte(nil), packetBuf[:n]...), granuleDelta, last)
	}
	return out.bytes(), nil
}

var serialCounter uint32

func randomSerial() uint32 {
	serialCounter++
	return 0x50524e58 ^ serialCounter // "PRNX" xored with a monotonically increasing counter
}
