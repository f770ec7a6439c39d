// Package rtpvideo implements the RTP video-frame depacketisers of spec.md
// §4.9: VP8, H.264, H.265 and MJPEG reassembly of encoded elementary-stream
// frames out of a sequence of RTP packets. No third-party RTP codec library
// from the retrieved pack reaches this level of payload detail (see
// DESIGN.md), so the NAL/partition parsing here is built from scratch
// against the RFCs cited in spec.md, in the bit-masking style
// firestige-Otus/plugins/parser/rtp/rtp.go uses for RTP fixed-header fields.
package rtpvideo

// seqLess reports whether sequence number a sorts before b, using the
// 16-bit wrap-aware comparison spec.md §4.9 specifies: a naive a < b breaks
// near the 65536 wraparound, so once the two numbers are farther apart than
// 0xFFFF-2000 the comparison is inverted on the assumption that the larger
// value actually wrapped around to a small one.
func seqLess(a, b uint16) bool {
	diff := int(a) - int(b)
	if diff < 0 {
		diff = -diff
	}
	if diff > 0xFFFF-2000 {
		return a > b
	}
	return a < b
}
