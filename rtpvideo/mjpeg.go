package rtpvideo

import (
	"bytes"
	"encoding/binary"
)

// MJPEGDepacketizer reassembles a JFIF-compliant JPEG image from RTP/JPEG
// packets (RFC 2435). Unlike the other three depacketisers it must
// synthesise the JPEG header itself: RFC 2435 carries only the compressed
// scan data over the wire, plus enough metadata (type, Q, dimensions,
// optional quantization tables and restart interval) to reconstruct the
// rest of a standard JFIF file.
type MJPEGDepacketizer struct {
	frame  bytes.Buffer
	active bool

	qLuma, qChroma []byte // current quantization tables
}

// NewMJPEGDepacketizer returns a depacketiser with the RFC 2435 default
// quantization tables in force until a packet supplies explicit ones or a
// different Q value.
func NewMJPEGDepacketizer() *MJPEGDepacketizer {
	d := &MJPEGDepacketizer{}
	d.qLuma = append([]byte(nil), defaultQuantTables[:64]...)
	d.qChroma = append([]byte(nil), defaultQuantTables[64:]...)
	return d
}

// ProcessPacket implements the C9 contract per spec.md §4.9's MJPEG
// algorithm: on fragment_offset==0 it flushes any previous in-flight frame
// (ensuring it ends in FF D9) and starts a new one with a synthesised
// header; it always appends the packet's compressed data; on marker (or
// the *next* fragment-0, as a fallback for a lost marker bit) it returns
// the completed frame.
func (d *MJPEGDepacketizer) ProcessPacket(payload []byte, seq uint16, timestamp uint32, marker bool) (frame []byte, isKeyFrame bool, ok bool) {
	if len(payload) < 8 {
		return nil, false, false
	}

	fragOffset := int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
	typ := payload[4]
	q := payload[5]
	width := int(payload[6]) * 8
	height := int(payload[7]) * 8
	off := 8

	var dri uint16
	haveDRI := false
	if typ >= 64 {
		if len(payload) < off+4 {
			return nil, false, false
		}
		dri = binary.BigEndian.Uint16(payload[off : off+2])
		haveDRI = true
		off += 4
	}

	var completed []byte

	if fragOffset == 0 {
		if d.active {
			ensureEOI(&d.frame)
			completed = takeFrame(&d.frame)
		}

		if q >= 128 {
			if len(payload) < off+4 {
				return nil, false, false
			}
			length := int(binary.BigEndian.Uint16(payload[off+2 : off+4]))
			off += 4
			if len(payload) < off+length {
				return nil, false, false
			}
			d.setQuantTables(payload[off : off+length])
			off += length
		} else {
			d.qLuma = scaleQuantTable(defaultQuantTables[:64], int(q))
			d.qChroma = scaleQuantTable(defaultQuantTables[64:], int(q))
		}

		d.frame.Reset()
		d.frame.Write(buildJPEGHeader(typ, width, height, d.qLuma, d.qChroma, dri, haveDRI))
		d.active = true
	}

	if !d.active {
		return nil, false, false
	}
	if off <= len(payload) {
		d.frame.Write(payload[off:])
	}

	if marker {
		ensureEOI(&d.frame)
		out := takeFrame(&d.frame)
		d.active = false
		return out, true, true
	}
	if completed != nil {
		return completed, true, true
	}
	return nil, false, false
}

// setQuantTables installs raw table bytes carried in an RTP/JPEG
// quantization-table header: when the table spans 128 bytes it is treated
// as one 64-byte luma table followed by one 64-byte chroma table (the only
// layout spec.md's test scenarios exercise); any other length is split in
// half.
func (d *MJPEGDepacketizer) setQuantTables(data []byte) {
	if len(data) < 2 {
		return
	}
	half := len(data) / 2
	d.qLuma = append([]byte(nil), data[:half]...)
	d.qChroma = append([]byte(nil), data[half:]...)
}

// ensureEOI appends the JPEG end-of-image marker if the buffer does not
// already end with one, per spec.md §4.9's "flush any previous frame
// (ensuring FF D9 end-of-image marker is present)".
func ensureEOI(buf *bytes.Buffer) {
	b := buf.Bytes()
	if len(b) >= 2 && b[len(b)-2] == 0xFF && b[len(b)-1] == 0xD9 {
		return
	}
	buf.Write([]byte{0xFF, 0xD9})
}

func takeFrame(buf *bytes.Buffer) []byte {
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	buf.Reset()
	return out
}

// buildJPEGHeader synthesises SOI, JFIF APP0, an optional DRI segment, the
// two DQT segments, an SOF0, the four standard DHT segments and an SOS, per
// spec.md §4.9's "MJPEG reassembled output" wire format. typ's low bit
// selects 4:2:0 vs 4:2:2 chroma subsampling per RFC 2435 §3.1.3.
func buildJPEGHeader(typ byte, width, height int, qLuma, qChroma []byte, dri uint16, haveDRI bool) []byte {
	var buf bytes.Buffer

	buf.Write([]byte{0xFF, 0xD8}) // SOI

	// APP0 JFIF.
	buf.Write([]byte{0xFF, 0xE0, 0x00, 0x10})
	buf.WriteString("JFIF\x00")
	buf.Write([]byte{0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00})

	if haveDRI {
		buf.Write([]byte{0xFF, 0xDD, 0x00, 0x04})
		var b2 [2]byte
		binary.BigEndian.PutUint16(b2[:], dri)
		buf.Write(b2[:])
	}

	writeDQT(&buf, 0, qLuma)
	writeDQT(&buf, 1, qChroma)

	writeSOF0(&buf, typ, width, height)

	writeDHT(&buf, 0, 0, huffDCLumaBits, huffDCLumaVals)
	writeDHT(&buf, 1, 0, huffACLumaBits, huffACLumaVals)
	writeDHT(&buf, 0, 1, huffDCChromaBits, huffDCChromaVals)
	writeDHT(&buf, 1, 1, huffACChromaBits, huffACChromaVals)

	writeSOS(&buf)

	return buf.Bytes()
}

func writeDQT(buf *bytes.Buffer, tableID byte, table []byte) {
	buf.Write([]byte{0xFF, 0xDB, 0x00, 0x43, tableID})
	buf.Write(table)
}

// writeSOF0 writes a baseline SOF0 segment for 3 components (Y, Cb, Cr).
// typ&1==0 selects 4:2:2 (Y sampled 2x1), typ&1==1 selects 4:2:0 (Y sampled
// 2x2), per RFC 2435.
func writeSOF0(buf *bytes.Buffer, typ byte, width, height int) {
	ySampling := byte(0x21) // H=2, V=1 -> 4:2:2
	if typ&0x01 == 1 {
		ySampling = 0x22 // H=2, V=2 -> 4:2:0
	}

	buf.Write([]byte{0xFF, 0xC0, 0x00, 0x11, 0x08})
	var b2 [2]byte
	binary.BigEndian.PutUint16(b2[:], uint16(height))
	buf.Write(b2[:])
	binary.BigEndian.PutUint16(b2[:], uint16(width))
	buf.Write(b2[:])
	buf.WriteByte(0x03) // 3 components

	buf.Write([]byte{0x01, ySampling, 0x00}) // Y, quant table 0
	buf.Write([]byte{0x02, 0x11, 0x01})      // Cb, quant table 1
	buf.Write([]byte{0x03, 0x11, 0x01})      // Cr, quant table 1
}

func writeDHT(buf *bytes.Buffer, class, id byte, bits, vals []byte) {
	length := 2 + 1 + len(bits) + len(vals)
	buf.Write([]byte{0xFF, 0xC4})
	var b2 [2]byte
	binary.BigEndian.PutUint16(b2[:], uint16(length))
	buf.Write(b2[:])
	buf.WriteByte((class << 4) | id)
	buf.Write(bits)
	buf.Write(vals)
}

func writeSOS(buf *bytes.Buffer) {
	buf.Write([]byte{0xFF, 0xDA, 0x00, 0x0C, 0x03})
	buf.Write([]byte{0x01, 0x00}) // Y: DC table 0, AC table 0
	buf.Write([]byte{0x02, 0x11}) // Cb: DC table 1, AC table 1
	buf.Write([]byte{0x03, 0x11}) // Cr: DC table 1, AC table 1
	buf.Write([]byte{0x00, 0x3F, 0x00})
}
