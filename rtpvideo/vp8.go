package rtpvideo

// VP8Depacketizer reassembles a VP8 frame from RTP packets carrying the
// VP8 payload descriptor of RFC 7741. Unlike the NAL-based codecs, VP8
// frames are not timestamp-grouped here: a new frame starts at the packet
// whose descriptor S bit is set, and the marker bit on a later (or the
// same) packet terminates it.
type VP8Depacketizer struct {
	buf    []byte
	active bool
}

// NewVP8Depacketizer returns a depacketiser with no frame in progress.
func NewVP8Depacketizer() *VP8Depacketizer {
	return &VP8Depacketizer{}
}

func (d *VP8Depacketizer) ProcessPacket(payload []byte, seq uint16, timestamp uint32, marker bool) (frame []byte, isKeyFrame bool, ok bool) {
	if len(payload) < 1 {
		return nil, false, false
	}

	start := payload[0]&0x10 != 0 // S bit
	descLen, descOK := vp8DescriptorLen(payload)
	if !descOK {
		return nil, false, false
	}
	data := payload[descLen:]

	switch {
	case start:
		d.buf = append(d.buf[:0], data...)
		d.active = true
	case d.active:
		d.buf = append(d.buf, data...)
	default:
		// Mid-frame packet arrived with no start packet seen (loss);
		// nothing to accumulate into.
		return nil, false, false
	}

	if !marker {
		return nil, false, false
	}

	out := make([]byte, len(d.buf))
	copy(out, d.buf)
	d.active = false

	// Per spec.md §4.9: bit 0 of the first byte of VP8 payload data
	// (partition 0) being 0 indicates a key frame.
	isKey := len(out) > 0 && out[0]&0x01 == 0
	return out, isKey, true
}

// vp8DescriptorLen computes the length of the VP8 payload descriptor (RFC
// 7741 §4.2): 1 required byte, plus an extension byte and up to 4 more
// optional bytes (a 1- or 2-byte Picture ID, TL0PICIDX, TID/KEYIDX)
// depending on the X/I/L/T/K flag bits, for at most 6 bytes in all.
func vp8DescriptorLen(b []byte) (int, bool) {
	if len(b) < 1 {
		return 0, false
	}
	x := b[0]&0x80 != 0
	n := 1
	if !x {
		return n, true
	}

	if len(b) < 2 {
		return 0, false
	}
	ext := b[1]
	i := ext&0x80 != 0
	l := ext&0x40 != 0
	t := ext&0x20 != 0
	k := ext&0x10 != 0
	n = 2

	if i {
		if len(b) <= n {
			return 0, false
		}
		if b[n]&0x80 != 0 { // M bit: 15-bit (2-byte) Picture ID
			n += 2
		} else {
			n++
		}
	}
	if l {
		n++
	}
	if t || k {
		n++
	}

	if len(b) < n {
		return 0, false
	}
	return n, true
}
