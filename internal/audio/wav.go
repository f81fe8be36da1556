// Package audio converts raw linear-PCM sample buffers to and from a
// minimal WAV container and keeps the monotonic playback-scheduling cursor
// for streamed output.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

var ErrNotWAV = errors.New("audio: not a RIFF/WAVE container")

// Format describes the PCM shape of a buffer.
type Format struct {
	SampleRateHz  int
	Channels      int
	BitsPerSample int
}

func (f Format) bytesPerSecond() int {
	return f.SampleRateHz * f.Channels * f.BitsPerSample / 8
}

func (f Format) blockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

func (f Format) validate() error {
	if f.SampleRateHz <= 0 {
		return fmt.Errorf("audio: sample rate must be > 0")
	}
	if f.Channels <= 0 {
		return fmt.Errorf("audio: channels must be > 0")
	}
	switch f.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("audio: unsupported bit depth %d", f.BitsPerSample)
	}
	return nil
}

// EncodeWAV wraps pcm in a self-describing container: the fixed 44-byte
// little-endian RIFF/WAVE header followed by the raw samples. The output is
// byte-exact and reproducible for identical inputs. Callers reject
// too-short payloads before encoding; the codec itself only refuses empty
// input and malformed formats.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("audio: empty PCM payload")
	}

	out := make([]byte, wavHeaderSize+len(pcm))
	h := out[:wavHeaderSize]

	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(wavHeaderSize+len(pcm)-8))
	copy(h[8:12], "WAVE")

	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // format tag: linear PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(f.SampleRateHz))
	binary.LittleEndian.PutUint32(h[28:32], uint32(f.bytesPerSecond()))
	binary.LittleEndian.PutUint16(h[32:34], uint16(f.blockAlign()))
	binary.LittleEndian.PutUint16(h[34:36], uint16(f.BitsPerSample))

	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(len(pcm)))

	copy(out[wavHeaderSize:], pcm)
	return out, nil
}

// Header is the decoded WAV header of an encoded buffer.
type Header struct {
	Format      Format
	ByteRate    int
	BlockAlign  int
	PayloadSize int
}

// ParseWAVHeader reads back the fixed header written by EncodeWAV.
func ParseWAVHeader(wav []byte) (Header, error) {
	if len(wav) < wavHeaderSize {
		return Header{}, ErrNotWAV
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return Header{}, ErrNotWAV
	}
	if string(wav[12:16]) != "fmt " || string(wav[36:40]) != "data" {
		return Header{}, ErrNotWAV
	}
	if binary.LittleEndian.Uint16(wav[20:22]) != 1 {
		return Header{}, fmt.Errorf("audio: format tag is not linear PCM")
	}
	h := Header{
		Format: Format{
			SampleRateHz:  int(binary.LittleEndian.Uint32(wav[24:28])),
			Channels:      int(binary.LittleEndian.Uint16(wav[22:24])),
			BitsPerSample: int(binary.LittleEndian.Uint16(wav[34:36])),
		},
		ByteRate:    int(binary.LittleEndian.Uint32(wav[28:32])),
		BlockAlign:  int(binary.LittleEndian.Uint16(wav[32:34])),
		PayloadSize: int(binary.LittleEndian.Uint32(wav[40:44])),
	}
	if h.PayloadSize != len(wav)-wavHeaderSize {
		return Header{}, fmt.Errorf("audio: payload length %d does not match header %d", len(wav)-wavHeaderSize, h.PayloadSize)
	}
	return h, nil
}

// DurationMS returns the playback duration of a raw PCM buffer in
// milliseconds.
func DurationMS(pcmBytes int, f Format) int64 {
	bps := f.bytesPerSecond()
	if bps <= 0 || pcmBytes <= 0 {
		return 0
	}
	return int64(pcmBytes) * 1000 / int64(bps)
}
