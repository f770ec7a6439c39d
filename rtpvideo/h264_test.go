package rtpvideo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fuAPacket builds one FU-A fragment of an H.264 NAL whose original header
// is nalHeader, carrying chunk as its share of the payload.
func fuAPacket(nalHeader byte, start, end bool, chunk []byte) []byte {
	fuType := nalHeader & h264NALTypeMask
	indicator := (nalHeader & 0xE0) | h264FUA
	var s, e byte
	if start {
		s = 0x80
	}
	if end {
		e = 0x40
	}
	header := s | e | fuType
	return append([]byte{indicator, header}, chunk...)
}

// TestH264FUAOutOfOrderReassembly mirrors spec.md §8 scenario 5: an SPS
// NAL fragmented across 5 FU-A packets, delivered out of sequence-number
// order, terminated by the marker bit on the last-arriving packet.
func TestH264FUAOutOfOrderReassembly(t *testing.T) {
	const nalHeader = 0x67 // F=0 NRI=3 type=7 (SPS)
	chunks := [][]byte{{0xAA}, {0xBB}, {0xCC}, {0xDD}, {0xEE}}

	frags := map[uint16][]byte{
		1000: fuAPacket(nalHeader, true, false, chunks[0]),
		1001: fuAPacket(nalHeader, false, false, chunks[1]),
		1002: fuAPacket(nalHeader, false, false, chunks[2]),
		1003: fuAPacket(nalHeader, false, false, chunks[3]),
		1004: fuAPacket(nalHeader, false, true, chunks[4]),
	}

	d := NewH264Depacketizer()
	arrival := []uint16{1002, 1001, 1004, 1003, 1000}

	var frame []byte
	var isKey, ok bool
	for i, seq := range arrival {
		marker := i == len(arrival)-1
		frame, isKey, ok = d.ProcessPacket(frags[seq], seq, 9000, marker)
		if !marker {
			assert.False(t, ok, "no frame expected before marker")
		}
	}

	require.True(t, ok)
	assert.True(t, isKey, "frame contains SPS and no non-IDR slice")
	expected := append([]byte{0x00, 0x00, 0x00, 0x01, nalHeader}, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE)
	assert.Equal(t, expected, frame)
}

func TestH264SingleNALPassthrough(t *testing.T) {
	d := NewH264Depacketizer()
	nal := []byte{0x65, 0x01, 0x02, 0x03} // type 5: non-IDR slice
	frame, isKey, ok := d.ProcessPacket(nal, 1, 1000, true)
	require.True(t, ok)
	assert.False(t, isKey)
	assert.Equal(t, append([]byte{0x00, 0x00, 0x00, 0x01}, nal...), frame)
}

func TestH264STAPAAggregatesTwoNALs(t *testing.T) {
	sps := []byte{0x67, 0xAA}
	pps := []byte{0x68, 0xBB}

	var payload []byte
	payload = append(payload, h264STAPA) // STAP-A indicator, NRI=0 for simplicity
	payload = append(payload, 0x00, byte(len(sps)))
	payload = append(payload, sps...)
	payload = append(payload, 0x00, byte(len(pps)))
	payload = append(payload, pps...)

	d := NewH264Depacketizer()
	frame, isKey, ok := d.ProcessPacket(payload, 1, 1000, true)
	require.True(t, ok)
	assert.True(t, isKey)

	expected := append([]byte{0x00, 0x00, 0x00, 0x01}, sps...)
	expected = append(expected, 0x00, 0x00, 0x00, 0x01)
	expected = append(expected, pps...)
	assert.Equal(t, expected, frame)
}

func TestH264DiscardsGroupOnTimestampChangeBeforeMarker(t *testing.T) {
	d := NewH264Depacketizer()

	first := fuAPacket(0x67, true, false, []byte{0x01})
	_, _, ok := d.ProcessPacket(first, 1, 1000, false)
	assert.False(t, ok)

	// A new timestamp arrives before the first group's marker: spec.md
	// §4.9 says the in-flight group is discarded (packet loss across a
	// frame boundary), so only the new group's single NAL should survive.
	second := []byte{0x65, 0x02, 0x03}
	frame, _, ok := d.ProcessPacket(second, 2, 2000, true)
	require.True(t, ok)
	assert.Equal(t, append([]byte{0x00, 0x00, 0x00, 0x01}, second...), frame)
}
