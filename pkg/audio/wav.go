package audio

import (
	"encoding/binary"
	"errors"
)

// ErrInvalidWAV is returned by [ParseWAV] for data that is not a PCM RIFF/WAVE
// container.
var ErrInvalidWAV = errors.New("audio: invalid WAV")

// EncodeWAV wraps pcm in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	const bps = 16
	buf := make([]byte, 44+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.SampleRate*f.Channels*bps/8))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(f.Channels*bps/8))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// ParseWAV walks the RIFF chunks of wav and returns the PCM payload together
// with the format from the "fmt " chunk. Chunk sizes are honoured rather than
// assuming a fixed 44-byte header.
func ParseWAV(wav []byte) ([]byte, Format, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, Format{}, ErrInvalidWAV
	}

	var f Format
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size >= 16 && body+16 <= len(wav) {
				f.Channels = int(binary.LittleEndian.Uint16(wav[body+2:]))
				f.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4:]))
			}
		case "data":
			if f.SampleRate == 0 {
				return nil, Format{}, ErrInvalidWAV
			}
			end := min(body+size, len(wav))
			return wav[body:end], f, nil
		}

		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return nil, Format{}, ErrInvalidWAV
}
