// Package mulaw implements G.711 μ-law companding between 8-bit telephony
// codes and signed 16-bit little-endian linear PCM.
//
// Encoding is bit-exact with the ITU-T reference, so frames produced here
// interoperate with any compliant telephony endpoint. Re-encoding a decoded
// code returns the original code, except for negative zero (0x7F) which
// decodes to 0 and encodes back as 0xFF.
package mulaw

import "encoding/binary"

const (
	bias = 0x84
	clip = 32635
)

// Decode expands μ-law codes into linear PCM. The output is twice as long as
// the input. Empty input yields empty output.
func Decode(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, u := range ulaw {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(DecodeSample(u)))
	}
	return out
}

// Encode compresses linear PCM into μ-law codes, one per 16-bit sample. A
// trailing odd byte is ignored.
func Encode(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = EncodeSample(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

// DecodeSample expands a single μ-law code.
func DecodeSample(u byte) int16 {
	u = ^u
	exp := (u >> 4) & 0x07
	mant := int32(u & 0x0F)
	v := ((mant << 3) + bias) << exp
	v -= bias
	if u&0x80 != 0 {
		return int16(-v)
	}
	return int16(v)
}

// EncodeSample compresses a single linear sample.
func EncodeSample(s int16) byte {
	v := int32(s)
	var sign byte
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > clip {
		v = clip
	}
	v += bias

	exp := byte(7)
	for mask := int32(0x4000); exp > 0 && v&mask == 0; mask >>= 1 {
		exp--
	}
	mant := byte(v>>(exp+3)) & 0x0F
	return ^(sign | exp<<4 | mant)
}
