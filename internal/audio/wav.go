package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrNotWAV = errors.New("not a PCM16 WAV stream")

// EncodeWAV wraps the buffer in a PCM16LE WAV container.
func EncodeWAV(b Buffer) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVTo(&buf, b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVFile writes the buffer as a PCM16LE WAV file.
func WriteWAVFile(path string, b Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteWAVTo(f, b)
}

// WriteWAVTo writes the buffer to out as a PCM16LE WAV stream. Samples are
// clamped to [-1, 1] before conversion.
func WriteWAVTo(out io.Writer, b Buffer) error {
	const (
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if len(b.Samples) == 0 || b.Channels <= 0 || b.SampleRate <= 0 {
		return ErrEmptyBuffer
	}

	dataSize := uint32(len(b.Samples) * 2)
	byteRate := uint32(b.SampleRate * b.Channels * bitsPerSample / 8)
	blockAlign := uint16(b.Channels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(b.Channels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(b.SampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	for _, s := range b.Samples {
		if err := binary.Write(w, binary.LittleEndian, floatToPCM16(s)); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadWAVFile reads a PCM16LE WAV file back into a float32 buffer.
func ReadWAVFile(path string) (Buffer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Buffer{}, err
	}
	return DecodeWAV(raw)
}

// DecodeWAV parses a PCM16LE WAV stream produced by WriteWAVTo.
func DecodeWAV(raw []byte) (Buffer, error) {
	if len(raw) < 44 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return Buffer{}, ErrNotWAV
	}

	var (
		channels   int
		sampleRate int
		data       []byte
	)

	// Walk chunks; producers may insert extension chunks between fmt and data.
	off := 12
	for off+8 <= len(raw) {
		id := string(raw[off : off+4])
		size := int(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		body := off + 8
		if body+size > len(raw) {
			return Buffer{}, fmt.Errorf("%w: truncated %q chunk", ErrNotWAV, id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return Buffer{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			format := binary.LittleEndian.Uint16(raw[body : body+2])
			bits := binary.LittleEndian.Uint16(raw[body+14 : body+16])
			if format != 1 || bits != 16 {
				return Buffer{}, fmt.Errorf("%w: format=%d bits=%d", ErrNotWAV, format, bits)
			}
			channels = int(binary.LittleEndian.Uint16(raw[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
		case "data":
			data = raw[body : body+size]
		}
		// Chunks are word-aligned.
		off = body + size + size%2
	}

	if channels <= 0 || sampleRate <= 0 || data == nil {
		return Buffer{}, fmt.Errorf("%w: missing fmt or data chunk", ErrNotWAV)
	}
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = pcm16ToFloat(int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2])))
	}
	return Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

func floatToPCM16(v float32) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	scaled := float64(v) * 32767
	if scaled > 32767 {
		scaled = 32767
	} else if scaled < -32768 {
		scaled = -32768
	}
	return int16(scaled)
}

func pcm16ToFloat(v int16) float32 {
	return float32(v) / 32768
}
