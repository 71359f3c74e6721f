package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpusOptionsDefaults(t *testing.T) {
	opts := OpusOptions{}.withDefaults()
	assert.Equal(t, 48000, opts.BitrateBps)
	assert.Equal(t, 8, opts.Complexity)
	assert.Equal(t, 20, opts.FrameSizeMs)
}

func TestOpusOptionsKeepsExplicitValues(t *testing.T) {
	opts := OpusOptions{BitrateBps: 64000, Complexity: 5, FrameSizeMs: 40}.withDefaults()
	assert.Equal(t, 64000, opts.BitrateBps)
	assert.Equal(t, 5, opts.Complexity)
	assert.Equal(t, 40, opts.FrameSizeMs)
}

func TestEncodeSegmentRejectsEmptyPCM(t *testing.T) {
	enc := NewOpusEncoder(OpusOptions{})
	_, err := enc.EncodeSegment(nil, 48000, 1)
	assert.Error(t, err)
}

func TestRandomSerialIsMonotonicallyDistinct(t *testing.T) {
	a := randomSerial()
	b := randomSerial()
	assert.NotEqual(t, a, b)
}
