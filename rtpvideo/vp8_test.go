package rtpvideo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVP8SinglePacketKeyFrame(t *testing.T) {
	// No extended bits (X=0): 1-byte descriptor, S=1 (start of partition).
	descriptor := byte(0x10)
	data := []byte{0x10, 0x02, 0x03} // first bit of data[0] is 0 -> key frame
	payload := append([]byte{descriptor}, data...)

	d := NewVP8Depacketizer()
	frame, isKey, ok := d.ProcessPacket(payload, 1, 1000, true)
	require.True(t, ok)
	assert.True(t, isKey)
	assert.Equal(t, data, frame)
}

func TestVP8InterFrameIsNotKey(t *testing.T) {
	descriptor := byte(0x10)
	data := []byte{0x11, 0x02} // bit 0 of first byte is 1 -> not a key frame
	payload := append([]byte{descriptor}, data...)

	d := NewVP8Depacketizer()
	_, isKey, ok := d.ProcessPacket(payload, 1, 1000, true)
	require.True(t, ok)
	assert.False(t, isKey)
}

// TestVP8MultiPacketSizeMatchesPayloadSum exercises spec.md §8's VP8
// round-trip property: depacketised size equals the sum of per-packet
// payload sizes minus each packet's payload-descriptor length.
func TestVP8MultiPacketSizeMatchesPayloadSum(t *testing.T) {
	start := append([]byte{0x10}, []byte{0x10, 0xAA, 0xBB}...) // descriptor + 3 bytes data
	mid := append([]byte{0x00}, []byte{0xCC, 0xDD, 0xEE, 0xFF}...)
	last := append([]byte{0x00}, []byte{0x01, 0x02}...)

	d := NewVP8Depacketizer()
	_, _, ok := d.ProcessPacket(start, 1, 1000, false)
	assert.False(t, ok)
	_, _, ok = d.ProcessPacket(mid, 2, 1000, false)
	assert.False(t, ok)
	frame, _, ok := d.ProcessPacket(last, 3, 1000, true)
	require.True(t, ok)

	wantLen := (len(start) - 1) + (len(mid) - 1) + (len(last) - 1)
	assert.Len(t, frame, wantLen)
}

func TestVP8DescriptorWithExtendedPictureID(t *testing.T) {
	// X=1, S=1; extension byte I=1 with M=1 -> 2-byte picture ID.
	descriptor := []byte{0x90, 0x80, 0x81, 0x23}
	data := []byte{0x10, 0xAA}
	payload := append(append([]byte{}, descriptor...), data...)

	d := NewVP8Depacketizer()
	frame, _, ok := d.ProcessPacket(payload, 1, 1000, true)
	require.True(t, ok)
	assert.Equal(t, data, frame)
}
