package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegmentTableUnderFullRun(t *testing.T) {
	assert.Equal(t, []byte{10}, segmentTable(10))
}

func TestSegmentTableExactMultipleOf255(t *testing.T) {
	assert.Equal(t, []byte{255, 0}, segmentTable(255))
}

func TestSegmentTableMultipleRuns(t *testing.T) {
	assert.Equal(t, []byte{255, 255, 10}, segmentTable(520))
}

func TestOggChecksumDeterministic(t *testing.T) {
	data := []byte("some ogg page bytes")
	assert.Equal(t, oggChecksum(data), oggChecksum(data))
}

func TestOggChecksumDiffersOnDifferentInput(t *testing.T) {
	assert.NotEqual(t, oggChecksum([]byte("a")), oggChecksum([]byte("b")))
}

func TestBuildOpusHeadLayout(t *testing.T) {
	head := buildOpusHead(48000, 1)
	assert.Equal(t, "OpusHead", string(head[0:8]))
	assert.Equal(t, byte(1), head[8]) // version
	assert.Equal(t, byte(1), head[9]) // channels
	assert.Len(t, head, 19)
}

func TestBuildOpusTagsLayout(t *testing.T) {
	tags := buildOpusTags()
	assert.Equal(t, "OpusTags", string(tags[0:8]))
}

func TestOggWriterProducesNonEmptyOutput(t *testing.T) {
	w := newOggWriter(1234)
	w.writeHeaders(48000, 1)
	w.writeAudioPacket([]byte{1, 2, 3}, 960, true)

	out := w.bytes()
	assert.NotEmpty(t, out)
	assert.Equal(t, "OggS", string(out[0:4]))
}

func TestOggWriterPageSequenceIncrements(t *testing.T) {
	w := newOggWriter(1)
	w.writeHeaders(48000, 1)
	assert.EqualValues(t, 2, w.pageSeq)
	w.writeAudioPacket([]byte{1}, 960, true)
	assert.EqualValues(t, 3, w.pageSeq)
}
