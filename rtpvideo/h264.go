package rtpvideo

import "encoding/binary"

// H.264 NAL unit type constants, per RFC 6184 §5.2.
const (
	h264NonIDRSlice = 5
	h264SPS         = 7
	h264PPS         = 8
	h264STAPA       = 24
	h264FUA         = 28
	h264FUB         = 29
)

const h264NALTypeMask = 0x1F

// H264Depacketizer reassembles an Annex-B access unit from a sequence of
// RTP packets carrying H.264/AVC payloads (RFC 6184). One instance serves
// one RTP session for the lifetime described in spec.md §3.
type H264Depacketizer struct {
	acc frameAccumulator
}

// NewH264Depacketizer returns a depacketiser with no frame in progress.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// ProcessPacket implements the shared C9 contract of spec.md §4.9: it
// accumulates payload under seq/timestamp, and once marker is set, sorts
// the group and extracts the frame's NAL units. ok is false while a frame
// is still being accumulated or the completed group yielded no NAL bytes.
func (d *H264Depacketizer) ProcessPacket(payload []byte, seq uint16, timestamp uint32, marker bool) (frame []byte, isKeyFrame bool, ok bool) {
	if len(payload) == 0 {
		return nil, false, false
	}
	d.acc.Push(payload, seq, timestamp)
	if !marker {
		return nil, false, false
	}
	return assembleH264(d.acc.Drain())
}

func assembleH264(pkts []packet) ([]byte, bool, bool) {
	var out []byte
	hasSPSorPPS := false
	hasNonIDR := false

	var fuNAL []byte
	fuActive := false

	for _, p := range pkts {
		b := p.payload
		if len(b) == 0 {
			continue
		}
		naluType := b[0] & h264NALTypeMask

		switch {
		case naluType >= 1 && naluType <= 23:
			out = appendAnnexB(out, b)
			noteH264KeyNAL(naluType, &hasSPSorPPS, &hasNonIDR)

		case naluType == h264STAPA:
			rest := b[1:]
			for len(rest) >= 2 {
				size := int(binary.BigEndian.Uint16(rest[:2]))
				rest = rest[2:]
				if size <= 0 || size > len(rest) {
					break
				}
				nal := rest[:size]
				out = appendAnnexB(out, nal)
				noteH264KeyNAL(nal[0]&h264NALTypeMask, &hasSPSorPPS, &hasNonIDR)
				rest = rest[size:]
			}

		case naluType == 25, naluType == 26, naluType == 27:
			// STAP-B / MTAP16 / MTAP24: reserved aggregation variants,
			// skipped; they are neither counted nor reconstructed.

		case naluType == h264FUA:
			if len(b) < 2 {
				continue
			}
			fuHeader := b[1]
			start := fuHeader&0x80 != 0
			end := fuHeader&0x40 != 0
			fuType := fuHeader & 0x1F

			switch {
			case start:
				nalHeader := (b[0] & 0xE0) | fuType
				fuNAL = append([]byte{nalHeader}, b[2:]...)
				fuActive = true
			case fuActive:
				fuNAL = append(fuNAL, b[2:]...)
			}

			if end && fuActive {
				out = appendAnnexB(out, fuNAL)
				noteH264KeyNAL(fuNAL[0]&h264NALTypeMask, &hasSPSorPPS, &hasNonIDR)
				fuNAL = nil
				fuActive = false
			}

		case naluType == h264FUB:
			// FU-B: fragmentation with DON, unsupported per spec.md §4.9.
		}
	}

	if len(out) == 0 {
		return nil, false, false
	}
	return out, hasSPSorPPS && !hasNonIDR, true
}

// noteH264KeyNAL folds one NAL's type into the key-frame determination:
// spec.md §4.9 defines a key frame as containing SPS or PPS and NOT
// containing a non-IDR slice, across the whole access unit.
func noteH264KeyNAL(naluType byte, hasSPSorPPS, hasNonIDR *bool) {
	switch naluType {
	case h264SPS, h264PPS:
		*hasSPSorPPS = true
	case h264NonIDRSlice:
		*hasNonIDR = true
	}
}
