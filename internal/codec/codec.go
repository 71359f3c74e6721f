// Package codec turns raw synthesized PCM into the OGG/Opus segment
// files the API serves, and concatenates a job's segment files into one
// merged track.
package codec

import (
	"context"
	"fmt"
)

// ConcatSegment is one input to a job-level merge. Path points at a
// ready segment's cached audio file; an empty Path instead stands in
// for a skipped (errored/canceled) segment and is rendered as
// SilenceMs of silence. GapAfterMs is the pause inserted immediately
// after this item, scaled by the job's pause_scale and sized by the
// terminal punctuation class of the segment's text (see
// internal/merge).
type ConcatSegment struct {
	Path       string
	SilenceMs  int
	GapAfterMs int
}

// AudioCodec is the capability boundary between the synth/merge
// pipelines and the concrete audio encoding backend.
type AudioCodec interface {
	// EncodeSegment turns 16-bit little-endian PCM into an OGG/Opus file.
	EncodeSegment(pcm []int16, sampleRate, channels int) ([]byte, error)
	// ConcatSegments concatenates ordered segments into a single output
	// file, inserting generated silence for gaps and skipped segments,
	// fastest-path "stream copy" first, falling back to a full re-encode
	// if the inputs aren't bit-compatible for copy.
	ConcatSegments(ctx context.Context, segments []ConcatSegment, outPath string) error
}

// Codec composes the in-process Opus encoder for per-segment work with
// the ffmpeg-based concatenator for job-level merges, matching the
// original's split between direct model-adjacent encoding and an
// external ffmpeg process for concatenation.
type Codec struct {
	*OpusEncoder
	*FFmpegConcat
}

func New(opts OpusOptions, ffmpegBinary string) *Codec {
	return &Codec{
		OpusEncoder:  NewOpusEncoder(opts),
		FFmpegConcat: NewFFmpegConcat(ffmpegBinary),
	}
}

var ErrEncodeFailed = fmt.Errorf("codec: encode failed")
