package audioio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV is returned by DecodeWAV for data without a RIFF/WAVE header.
var ErrNotWAV = errors.New("audioio: not a WAV file")

const wavHeaderSize = 44

// EncodeWAV wraps PCM16 samples in a canonical 44-byte WAV header.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	dataLen := len(samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+dataLen))

	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(SamplesToBytes(samples))

	return buf.Bytes()
}

// DecodeWAV parses a PCM16 WAV file, skipping unknown chunks.
func DecodeWAV(data []byte) (AudioChunk, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return AudioChunk{}, ErrNotWAV
	}

	var (
		channels, bits int
		sampleRate     int
		haveFmt        bool
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return AudioChunk{}, fmt.Errorf("audioio: short fmt chunk (%d bytes)", size)
			}
			format := binary.LittleEndian.Uint16(data[body:])
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = int(binary.LittleEndian.Uint16(data[body+14:]))
			if format != 1 || bits != 16 {
				return AudioChunk{}, fmt.Errorf("audioio: unsupported WAV format %d/%d-bit", format, bits)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return AudioChunk{}, errors.New("audioio: data chunk before fmt chunk")
			}
			var c AudioChunk
			c.FromBytes(data[body:body+size], sampleRate, channels)
			return c, nil
		}

		pos = body + size + size%2
	}

	return AudioChunk{}, errors.New("audioio: WAV has no data chunk")
}
