package rtpvideo

import "sort"

// packet is one RTP payload pending frame assembly, tagged with the
// sequence number needed to reorder the group before extraction.
type packet struct {
	seq     uint16
	payload []byte
}

// frameAccumulator is the timestamp-keyed grouping state machine spec.md
// §4.9 describes as shared by the NAL-based depacketisers (H.264, H.265):
// accumulate packets while the RTP timestamp is unchanged, discard the
// group if the timestamp changes before a marker bit is seen (packet loss
// spanning a frame boundary), and hand back the group in sequence-number
// order once the marker bit arrives. VP8 frames key off the payload
// descriptor's S bit instead of a timestamp change, so VP8Depacketizer does
// not embed this type.
type frameAccumulator struct {
	haveTimestamp bool
	timestamp     uint32
	pkts          []packet
}

// Push adds payload to the in-flight group, started or continued at ts. A
// timestamp change relative to the current group discards whatever was
// accumulated so far before starting the new one.
func (a *frameAccumulator) Push(payload []byte, seq uint16, ts uint32) {
	if a.haveTimestamp && ts != a.timestamp {
		a.pkts = a.pkts[:0]
	}
	a.timestamp = ts
	a.haveTimestamp = true

	buf := make([]byte, len(payload))
	copy(buf, payload)
	a.pkts = append(a.pkts, packet{seq: seq, payload: buf})
}

// Drain sorts the accumulated group by wrap-aware sequence number, returns
// it, and resets the accumulator so the next Push starts a fresh group.
func (a *frameAccumulator) Drain() []packet {
	pkts := a.pkts
	a.pkts = nil
	a.haveTimestamp = false

	sort.Slice(pkts, func(i, j int) bool { return seqLess(pkts[i].seq, pkts[j].seq) })
	return pkts
}

// appendAnnexB appends nal to dst prefixed with the Annex-B start code, per
// spec.md §4.9's "each NAL prefixed by 00 00 00 01".
func appendAnnexB(dst, nal []byte) []byte {
	dst = append(dst, 0x00, 0x00, 0x00, 0x01)
	dst = append(dst, nal...)
	return dst
}
