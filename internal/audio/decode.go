package audio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"asrgate/internal/apperr"
)

// TargetSampleRate is the canonical pipeline sample rate.
const TargetSampleRate = 16000

// supportedFormats are the container hints the decoder accepts.
var supportedFormats = []string{
	"mp3", "mp4", "mpeg", "mpga", "m4a", "wav", "webm", "flac", "ogg", "amr", "pcm",
}

// IsSupportedFormat reports whether the format hint is decodable.
func IsSupportedFormat(format string) bool {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	for _, f := range supportedFormats {
		if format == f {
			return true
		}
	}
	return false
}

// DetectFormat resolves the container format from, in order, an explicit
// hint, the filename extension, and magic bytes. Returns "" when nothing
// matches.
func DetectFormat(hint, filename string, data []byte) string {
	if hint != "" && IsSupportedFormat(hint) {
		return strings.ToLower(strings.TrimPrefix(hint, "."))
	}
	if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")); ext != "" && IsSupportedFormat(ext) {
		return ext
	}
	return sniffFormat(data)
}

func sniffFormat(data []byte) string {
	if len(data) < 12 {
		return ""
	}
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return "wav"
	case bytes.HasPrefix(data, []byte("ID3")):
		return "mp3"
	case data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	case bytes.Equal(data[4:8], []byte("ftyp")):
		return "mp4"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "ogg"
	case bytes.HasPrefix(data, []byte("fLaC")):
		return "flac"
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "webm"
	case bytes.HasPrefix(data, []byte("#!AMR")):
		return "amr"
	}
	return ""
}

// DecodeFile decodes an audio file to canonical mono 16 kHz samples.
// WAV files already in canonical form are parsed natively; everything else
// goes through an ffmpeg pipe. A decoded duration of zero is rejected.
func DecodeFile(ctx context.Context, path, format string) (*Buffer, error) {
	if format == "" {
		head := make([]byte, 12)
		if f, err := os.Open(path); err == nil {
			io.ReadFull(f, head)
			f.Close()
		}
		format = DetectFormat("", path, head)
	}
	if format == "" {
		return nil, fmt.Errorf("%w: unsupported audio format", apperr.ErrInvalidMessage)
	}

	var buf *Buffer
	var err error
	switch format {
	case "wav":
		buf, err = ReadWavFile(path)
		if err == nil && buf.SampleRate != TargetSampleRate {
			// Wrong rate, let ffmpeg resample
			buf, err = decodeWithFFmpeg(ctx, path)
		}
	case "pcm":
		buf, err = readRawPCM(path)
	default:
		buf, err = decodeWithFFmpeg(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	if len(buf.Samples) == 0 {
		return nil, fmt.Errorf("%w: decoded audio is empty", apperr.ErrInvalidMessage)
	}
	return buf, nil
}

func readRawPCM(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcm file: %w", err)
	}
	return &Buffer{Samples: BytesToFloat32(data), SampleRate: TargetSampleRate}, nil
}

// decodeWithFFmpeg converts any container to raw mono 16 kHz PCM via a
// streaming pipe, the same invocation the transcription tools use.
func decodeWithFFmpeg(ctx context.Context, path string) (*Buffer, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found", apperr.ErrTransient)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprintf("%d", TargetSampleRate),
		"-ac", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	samples, err := readPCMStream(bufio.NewReader(stdout))
	if err != nil {
		cmd.Wait()
		return nil, fmt.Errorf("failed to read decoded audio: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: decode cancelled: %v", apperr.ErrTransient, ctx.Err())
		}
		return nil, fmt.Errorf("%w: ffmpeg failed: %s", apperr.ErrInvalidMessage, strings.TrimSpace(stderr.String()))
	}

	return &Buffer{Samples: samples, SampleRate: TargetSampleRate}, nil
}

// readPCMStream converts a 16-bit little-endian stream to samples. Reads
// can return an odd byte count mid-stream; the trailing byte is carried
// into the next chunk so sample alignment survives.
func readPCMStream(r io.Reader) ([]float32, error) {
	var samples []float32
	buf := make([]byte, 32768)
	pending := make([]byte, 0, 2)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if len(pending) > 0 {
				chunk = append(pending, chunk...)
			}
			usable := len(chunk) &^ 1
			samples = append(samples, BytesToFloat32(chunk[:usable])...)
			pending = append(pending[:0], chunk[usable:]...)
		}
		if err == io.EOF {
			return samples, nil
		}
		if err != nil {
			return samples, err
		}
	}
}
