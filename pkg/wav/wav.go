// Package wav provides minimal encoding and decoding of PCM 16-bit WAV files.
//
// The gateway standardises on WAV (PCM s16le) for every audio artifact and
// does not transcode: adapters that receive or produce raw PCM use [Encode]
// and [Decode] to move between the container and the sample stream. Only the
// canonical 44-byte RIFF header layout plus well-formed extra chunks are
// supported.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// headerSize is the size of a canonical RIFF/fmt/data header.
const headerSize = 44

// ErrNotWAV is returned by [Decode] when the input does not start with a
// RIFF/WAVE signature.
var ErrNotWAV = errors.New("wav: not a RIFF/WAVE stream")

// Format describes the sample layout of a PCM stream.
type Format struct {
	// SampleRate is the sample rate in Hz.
	SampleRate int

	// Channels is the channel count (1 = mono).
	Channels int
}

// Duration returns the play time of a PCM s16le byte stream in this format.
func (f Format) Duration(pcmLen int) time.Duration {
	bytesPerSec := f.SampleRate * f.Channels * 2
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(pcmLen) * time.Second / time.Duration(bytesPerSec)
}

// Encode wraps raw PCM s16le samples in a WAV container.
func Encode(pcm []byte, f Format) []byte {
	out := make([]byte, headerSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(f.SampleRate))
	byteRate := f.SampleRate * f.Channels * 2
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(f.Channels*2)) // block align
	binary.LittleEndian.PutUint16(out[34:36], 16)                   // bits per sample

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// Decode extracts the PCM payload and format from a WAV container. Only
// 16-bit PCM streams are accepted; chunks other than fmt and data are
// skipped.
func Decode(data []byte) ([]byte, Format, error) {
	if len(data) < headerSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var (
		f       Format
		havefmt bool
	)

	// Walk the chunk list after the 12-byte RIFF header.
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			return nil, Format{}, fmt.Errorf("wav: chunk %q overruns stream", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("wav: fmt chunk too small (%d bytes)", size)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return nil, Format{}, fmt.Errorf("wav: unsupported audio format %d (want PCM)", audioFormat)
			}
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if bits != 16 {
				return nil, Format{}, fmt.Errorf("wav: unsupported bit depth %d (want 16)", bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			havefmt = true

		case "data":
			if !havefmt {
				return nil, Format{}, errors.New("wav: data chunk before fmt chunk")
			}
			return data[body : body+size], f, nil
		}

		// Chunks are word-aligned.
		pos = body + size + (size & 1)
	}

	return nil, Format{}, errors.New("wav: no data chunk found")
}

// IsWAV reports whether data begins with a RIFF/WAVE signature.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}
