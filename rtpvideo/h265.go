package rtpvideo

import "encoding/binary"

// H.265/HEVC NAL unit type constants, per RFC 7798.
const (
	h265VPS = 32
	h265SPS = 33
	h265PPS = 34
	h265AP  = 48
	h265FU  = 49
)

// H265Depacketizer reassembles an Annex-B access unit from a sequence of
// RTP packets carrying H.265/HEVC payloads (RFC 7798). spec.md §9 resolves
// the aggregation-packet offset ambiguity in favour of: 2-byte payload
// header, then (u16 size, size bytes) pairs, no DONL field.
type H265Depacketizer struct {
	acc frameAccumulator
}

// NewH265Depacketizer returns a depacketiser with no frame in progress.
func NewH265Depacketizer() *H265Depacketizer {
	return &H265Depacketizer{}
}

func (d *H265Depacketizer) ProcessPacket(payload []byte, seq uint16, timestamp uint32, marker bool) (frame []byte, isKeyFrame bool, ok bool) {
	if len(payload) < 2 {
		return nil, false, false
	}
	d.acc.Push(payload, seq, timestamp)
	if !marker {
		return nil, false, false
	}
	return assembleH265(d.acc.Drain())
}

func h265NALType(b0 byte) byte {
	return (b0 >> 1) & 0x3F
}

func assembleH265(pkts []packet) ([]byte, bool, bool) {
	var out []byte
	keyFrame := false

	var fuNAL []byte
	fuActive := false

	for _, p := range pkts {
		b := p.payload
		if len(b) < 2 {
			continue
		}
		nalType := h265NALType(b[0])

		switch {
		case nalType <= 47:
			out = appendAnnexB(out, b)
			noteH265KeyNAL(nalType, &keyFrame)

		case nalType == h265AP:
			rest := b[2:]
			for len(rest) >= 2 {
				size := int(binary.BigEndian.Uint16(rest[:2]))
				rest = rest[2:]
				if size <= 0 || size > len(rest) {
					break
				}
				nal := rest[:size]
				out = appendAnnexB(out, nal)
				noteH265KeyNAL(h265NALType(nal[0]), &keyFrame)
				rest = rest[size:]
			}

		case nalType == h265FU:
			if len(b) < 3 {
				continue
			}
			fuHeader := b[2]
			start := fuHeader&0x80 != 0
			end := fuHeader&0x40 != 0
			fuType := fuHeader & 0x3F

			switch {
			case start:
				f := b[0] & 0x80
				layerID := ((b[0] & 0x01) << 5) | (b[1] >> 3)
				tidPlus1 := b[1] & 0x07
				h0 := f | (fuType << 1) | (layerID >> 5)
				h1 := ((layerID & 0x1F) << 3) | tidPlus1
				fuNAL = append([]byte{h0, h1}, b[3:]...)
				fuActive = true
			case fuActive:
				fuNAL = append(fuNAL, b[3:]...)
			}

			if end && fuActive {
				out = appendAnnexB(out, fuNAL)
				noteH265KeyNAL(h265NALType(fuNAL[0]), &keyFrame)
				fuNAL = nil
				fuActive = false
			}
		}
	}

	if len(out) == 0 {
		return nil, false, false
	}
	return out, keyFrame, true
}

// noteH265KeyNAL marks keyFrame once a VPS, SPS or PPS NAL is seen, per
// spec.md §4.9's H.265 key-frame rule.
func noteH265KeyNAL(nalType byte, keyFrame *bool) {
	switch nalType {
	case h265VPS, h265SPS, h265PPS:
		*keyFrame = true
	}
}
