package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Buffer is canonical decoded audio: float32 mono samples at SampleRate.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// DurationSec returns the buffer duration in seconds.
func (b *Buffer) DurationSec() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// DurationMS returns the buffer duration in milliseconds.
func (b *Buffer) DurationMS() int {
	if b.SampleRate == 0 {
		return 0
	}
	return len(b.Samples) * 1000 / b.SampleRate
}

// ReadWavFile reads a 16-bit PCM WAV file and returns its samples.
// Multi-channel files are downmixed by taking the first channel.
func ReadWavFile(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return readWav(f)
}

func readWav(f io.ReadSeeker) (*Buffer, error) {
	riffHeader := make([]byte, 12)
	if _, err := io.ReadFull(f, riffHeader); err != nil {
		return nil, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riffHeader[0:4]) != "RIFF" || string(riffHeader[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a valid WAV file")
	}

	var numChannels, sampleRate, bitsPerSample int
	var dataSize int64
	var foundFmt, foundData bool

	for !foundData {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(f, chunkHeader); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to read chunk header: %w", err)
		}

		chunkID := string(chunkHeader[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		switch chunkID {
		case "fmt ":
			fmtData := make([]byte, chunkSize)
			if _, err := io.ReadFull(f, fmtData); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if len(fmtData) >= 16 {
				numChannels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				sampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				bitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
			}
			foundFmt = true

		case "data":
			dataSize = chunkSize
			foundData = true

		default:
			// Skip unknown chunks (LIST, INFO, etc.)
			if _, err := f.Seek(chunkSize, io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("failed to skip chunk %s: %w", chunkID, err)
			}
		}

		// WAV chunks are word-aligned
		if chunkSize%2 != 0 && chunkID != "data" {
			f.Seek(1, io.SeekCurrent)
		}
	}

	if !foundFmt {
		return nil, fmt.Errorf("fmt chunk not found")
	}
	if !foundData {
		return nil, fmt.Errorf("data chunk not found")
	}
	if bitsPerSample != 16 {
		return nil, fmt.Errorf("only 16-bit WAV files are supported, got %d-bit", bitsPerSample)
	}
	if numChannels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", numChannels)
	}

	data := make([]byte, dataSize)
	n, err := io.ReadFull(f, data)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}
	data = data[:n]

	frameBytes := 2 * numChannels
	totalFrames := len(data) / frameBytes
	samples := make([]float32, totalFrames)
	for i := 0; i < totalFrames; i++ {
		// First channel only
		v := int16(binary.LittleEndian.Uint16(data[i*frameBytes:]))
		samples[i] = float32(v) / 32768.0
	}

	return &Buffer{Samples: samples, SampleRate: sampleRate}, nil
}

// WriteWavFile writes samples as a 16-bit PCM mono WAV file.
func WriteWavFile(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	dataSize := len(samples) * 2
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], 1) // mono
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(header[32:34], 2)
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))

	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	buf := make([]byte, dataSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(floatToInt16(s)))
	}
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	return nil
}

// floatToInt16 rounds on the same 32768 scale the readers divide by, so a
// written sample reads back within half a quantization step.
func floatToInt16(s float32) int16 {
	v := int32(math.Round(float64(s) * 32768))
	if v > 32767 {
		v = 32767
	}
	if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// BytesToFloat32 converts 16-bit little-endian PCM bytes to float32 samples.
func BytesToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := 0; i < len(samples); i++ {
		sample := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}
