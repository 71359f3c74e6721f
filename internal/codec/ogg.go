package codec

import (
	"bytes"
	"encoding/binary"
)

// oggCRCTable is the non-reflected CRC-32 table Ogg's framing checksum
// uses (polynomial 0x04c11db7), distinct from the reflected CRC-32 used
// by zlib/PNG, so it can't be borrowed from hash/crc32.
var oggCRCTable [256]uint32

func init() {
	const poly = uint32(0x04c11db7)
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for bit := 0; bit < 8; bit++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		oggCRCTable[i] = crc
	}
}

func oggChecksum(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}

// oggWriter assembles a minimal single-logical-stream Ogg container
// around raw Opus packets: an ID header page, a comment header page,
// then one page per audio packet. It's enough to produce a conformant
// OGG/Opus file for a single encoded segment.
type oggWriter struct {
	buf      bytes.Buffer
	serial   uint32
	pageSeq  uint32
	granule  int64
}

func newOggWriter(serial uint32) *oggWriter {
	return &oggWriter{serial: serial}
}

func (w *oggWriter) writeHeaders(sampleRate int, channels int) {
	head := buildOpusHead(sampleRate, channels)
	w.writePage(head, 0, true, false)
	tags := buildOpusTags()
	w.writePage(tags, 0, false, false)
}

// writeAudioPacket wraps one Opus packet in its own page, advancing the
// granule position by the packet's sample count at 48kHz (Opus's fixed
// internal clock).
func (w *oggWriter) writeAudioPacket(packet []byte, samplesAt48k int64, last bool) {
	w.granule += samplesAt48k
	w.writePageWithGranule(packet, w.granule, false, last)
}

func (w *oggWriter) writePage(data []byte, granule int64, first, last bool) {
	w.writePageWithGranule(data, granule, first, last)
}

func (w *oggWriter) writePageWithGranule(data []byte, granule int64, first, last bool) {
	var headerType byte
	if first {
		headerType |= 0x02
	}
	if last {
		headerType |= 0x04
	}

	segments := segmentTable(len(data))
	header := make([]byte, 27+len(segments))
	copy(header[0:4], []byte("OggS"))
	header[4] = 0 // version
	header[5] = headerType
	binary.LittleEndian.PutUint64(header[6:14], uint64(granule))
	binary.LittleEndian.PutUint32(header[14:18], w.serial)
	binary.LittleEndian.PutUint32(header[18:22], w.pageSeq)
	// header[22:26] checksum filled below
	header[26] = byte(len(segments))
	copy(header[27:], segments)

	page := append(header, data...)
	binary.LittleEndian.PutUint32(page[22:26], oggChecksum(page))

	w.buf.Write(page)
	w.pageSeq++
}

// segmentTable lays out the lacing values for a page holding a single
// packet of length n, per the Ogg spec (255-byte runs then a terminator
// less than 255, or an explicit zero-length terminator if n is an exact
// multiple of 255).
func segmentTable(n int) []byte {
	var segs []byte
	for n >= 255 {
		segs = append(segs, 255)
		n -= 255
	}
	segs = append(segs, byte(n))
	return segs
}

func buildOpusHead(sampleRate, channels int) []byte {
	b := make([]byte, 19)
	copy(b[0:8], []byte("OpusHead"))
	b[8] = 1 // version
	b[9] = byte(channels)
	binary.LittleEndian.PutUint16(b[10:12], 0)             // pre-skip
	binary.LittleEndian.PutUint32(b[12:16], uint32(sampleRate)) // original input rate, informational
	binary.LittleEndian.PutUint16(b[16:18], 0)             // output gain
	b[18] = 0                                              // channel mapping family
	return b
}

func buildOpusTags() []byte {
	vendor := []byte("ttsjobs")
	b := make([]byte, 0, 8+4+len(vendor)+4)
	b = append(b, []byte("OpusTags")...)
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(vendor)))
	b = append(b, lenBuf...)
	b = append(b, vendor...)
	binary.LittleEndian.PutUint32(lenBuf, 0) // no user comments
	b = append(b, lenBuf...)
	return b
}

func (w *oggWriter) bytes() []byte { return w.buf.Bytes() }
