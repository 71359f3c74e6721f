package codec

import (
	"context"
	"fmt"
	"os"

	wav "github.com/youpy/go-wav"
)

// EncodeSegmentViaFFmpeg is the fallback path used when the in-process
// Opus encoder errors (e.g. an exotic sample rate libopus rejects): it
// writes the PCM to a temporary WAV file and shells out to ffmpeg for
// the OGG/Opus conversion, mirroring the original's soundfile+ffmpeg
// encode path.
func (c *Codec) EncodeSegmentViaFFmpeg(ctx context.Context, pcm []int16, sampleRate, channels int) ([]byte, error) {
	wavPath, err := writeTempWAV(pcm, sampleRate, channels)
	if err != nil {
		return nil, err
	}
	defer os.Remove(wavPath)

	outPath := wavPath + ".opus.ogg"
	defer os.Remove(outPath)

	if err := c.run(ctx, []string{"-y", "-i", wavPath, "-c:a", "libopus", "-b:a", "48k", outPath}); err != nil {
		return nil, err
	}
	return os.ReadFile(outPath)
}

func writeTempWAV(pcm []int16, sampleRate, channels int) (string, error) {
	f, err := os.CreateTemp("", "ttsjobs-seg-*.wav")
	if err != nil {
		return "", fmt.Errorf("codec: temp wav: %w", err)
	}
	defer f.Close()

	pcmBytes := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		pcmBytes[2*i] = byte(s)
		pcmBytes[2*i+1] = byte(s >> 8)
	}

	writer := wav.NewWriter(f, uint32(len(pcm)/channels), uint16(channels), uint32(sampleRate), 16)
	if _, err := writer.Write(pcmBytes); err != nil {
		return "", fmt.Errorf("codec: write wav: %w", err)
	}
	return f.Name(), nil
}
