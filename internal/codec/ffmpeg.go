package codec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// FFmpegConcat joins ordered OGG/Opus segment files into one job's
// merged track, trying a zero-copy stream concat first and falling back
// to a full re-encode concat if the inputs aren't copy-compatible (e.g.
// mismatched Opus framing), matching the original merge pipeline's
// concat-then-reencode fallback.
type FFmpegConcat struct {
	binary string
}

func NewFFmpegConcat(binary string) *FFmpegConcat {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegConcat{binary: binary}
}

func (f *FFmpegConcat) ConcatSegments(ctx context.Context, segments []ConcatSegment, outPath string) error {
	if len(segments) == 0 {
		return fmt.Errorf("codec: no segments to concat")
	}
	paths, cleanup, err := f.materialize(ctx, segments)
	if err != nil {
		return err
	}
	defer cleanup()

	listPath, err := writeConcatList(paths)
	if err != nil {
		return err
	}
	defer os.Remove(listPath)

	if err := f.run(ctx, []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", outPath}); err == nil {
		return nil
	}

	return f.run(ctx, []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c:a", "libopus", "-b:a", "48k", outPath})
}

// materialize expands each ConcatSegment into one or two concat-list
// entries: the segment's own audio (or a generated silence stand-in if
// it has no Path) followed by a generated silence file if GapAfterMs is
// set. Callers must invoke the returned cleanup func once the concat
// list has been consumed.
func (f *FFmpegConcat) materialize(ctx context.Context, segments []ConcatSegment) ([]string, func(), error) {
	var paths []string
	var generated []string
	cleanup := func() {
		for _, p := range generated {
			os.Remove(p)
		}
	}
	for _, seg := range segments {
		if seg.Path != "" {
			paths = append(paths, seg.Path)
		} else if seg.SilenceMs > 0 {
			p, err := f.silenceFile(ctx, seg.SilenceMs)
			if err != nil {
				cleanup()
				return nil, func() {}, err
			}
			generated = append(generated, p)
			paths = append(paths, p)
		}
		if seg.GapAfterMs > 0 {
			p, err := f.silenceFile(ctx, seg.GapAfterMs)
			if err != nil {
				cleanup()
				return nil, func() {}, err
			}
			generated = append(generated, p)
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		cleanup()
		return nil, func() {}, fmt.Errorf("codec: no concat inputs produced")
	}
	return paths, cleanup, nil
}

// silenceFile renders a mono-silence Opus/Ogg file of the given
// duration via ffmpeg's anullsrc filter, for inter-segment pauses and
// skipped-segment stand-ins.
func (f *FFmpegConcat) silenceFile(ctx context.Context, ms int) (string, error) {
	out, err := os.CreateTemp("", "ttsjobs-silence-*.ogg")
	if err != nil {
		return "", fmt.Errorf("codec: silence tempfile: %w", err)
	}
	out.Close()
	seconds := fmt.Sprintf("%.3f", float64(ms)/1000)
	args := []string{"-y", "-f", "lavfi", "-i", "anullsrc=r=48000:cl=mono", "-t", seconds, "-c:a", "libopus", out.Name()}
	if err := f.run(ctx, args); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

func (f *FFmpegConcat) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("codec: ffmpeg %v: %w: %s", args, err, stderr.String())
	}
	return nil
}

func writeConcatList(paths []string) (string, error) {
	f, err := os.CreateTemp("", "ttsjobs-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("codec: concat list: %w", err)
	}
	defer f.Close()
	for _, p := range paths {
		if _, err := fmt.Fprintf(f, "file '%s'\n", p); err != nil {
			return "", err
		}
	}
	return f.Name(), nil
}
