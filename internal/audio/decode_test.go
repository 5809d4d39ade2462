package audio

import (
	"encoding/binary"
	"io"
	"math"
	"path/filepath"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	wavMagic := append([]byte("RIFF\x00\x00\x00\x00WAVE"), 0)

	tests := []struct {
		name     string
		hint     string
		filename string
		data     []byte
		want     string
	}{
		{"hint wins", "mp3", "audio.wav", wavMagic, "mp3"},
		{"hint with dot", ".flac", "x.bin", nil, "flac"},
		{"bad hint falls through to extension", "exe", "audio.ogg", nil, "ogg"},
		{"extension", "", "recording.m4a", nil, "m4a"},
		{"riff magic", "", "noext", wavMagic, "wav"},
		{"id3 magic", "", "noext", []byte("ID3\x04\x00\x00\x00\x00\x00\x00\x00\x00"), "mp3"},
		{"mpeg frame sync", "", "noext", []byte{0xFF, 0xFB, 0x90, 0, 0, 0, 0, 0, 0, 0, 0, 0}, "mp3"},
		{"ftyp magic", "", "noext", []byte("\x00\x00\x00\x18ftypisom\x00\x00\x00\x00"), "mp4"},
		{"ogg magic", "", "noext", []byte("OggS\x00\x02\x00\x00\x00\x00\x00\x00"), "ogg"},
		{"flac magic", "", "noext", []byte("fLaC\x00\x00\x00\x22\x00\x00\x00\x00"), "flac"},
		{"webm magic", "", "noext", []byte{0x1A, 0x45, 0xDF, 0xA3, 0, 0, 0, 0, 0, 0, 0, 0}, "webm"},
		{"amr magic", "", "noext", []byte("#!AMR\n\x00\x00\x00\x00\x00\x00"), "amr"},
		{"unknown", "", "noext", []byte("nothing here"), ""},
		{"too short", "", "noext", []byte("ab"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.hint, tt.filename, tt.data); got != tt.want {
				t.Errorf("DetectFormat(%q, %q) = %q, want %q", tt.hint, tt.filename, got, tt.want)
			}
		})
	}
}

func TestIsSupportedFormat(t *testing.T) {
	for _, f := range []string{"mp3", "wav", "WAV", ".flac", "pcm"} {
		if !IsSupportedFormat(f) {
			t.Errorf("IsSupportedFormat(%q) = false, want true", f)
		}
	}
	for _, f := range []string{"exe", "txt", ""} {
		if IsSupportedFormat(f) {
			t.Errorf("IsSupportedFormat(%q) = true, want false", f)
		}
	}
}

func TestWavRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundtrip.wav")

	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 16000))
	}

	if err := WriteWavFile(path, samples, 16000); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	buf, err := ReadWavFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if buf.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", buf.SampleRate)
	}
	if len(buf.Samples) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(buf.Samples), len(samples))
	}
	for i := range samples {
		if math.Abs(float64(buf.Samples[i]-samples[i])) > 0.5/32768 {
			t.Fatalf("sample %d = %v, want %v (within half a quantization step)", i, buf.Samples[i], samples[i])
		}
	}
}

func TestFloatToInt16(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full scale positive clamps", 1.0, 32767},
		{"full scale negative", -1.0, -32768},
		{"over range clamps", 1.5, 32767},
		{"under range clamps", -1.5, -32768},
		{"half scale", 0.5, 16384},
		{"negative half scale", -0.5, -16384},
		{"one step", 1.0 / 32768, 1},
		{"negative one step", -1.0 / 32768, -1},
		{"rounds up", 1.6 / 32768, 2},
		{"rounds down", 1.4 / 32768, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := floatToInt16(tt.in); got != tt.want {
				t.Errorf("floatToInt16(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

// chunkedReader returns data in a fixed cycle of read sizes, the way a
// pipe can deliver short and odd-length reads.
type chunkedReader struct {
	data  []byte
	sizes []int
	pos   int
	call  int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	size := r.sizes[r.call%len(r.sizes)]
	r.call++
	if size > len(r.data)-r.pos {
		size = len(r.data) - r.pos
	}
	if size > len(p) {
		size = len(p)
	}
	n := copy(p, r.data[r.pos:r.pos+size])
	r.pos += n
	return n, nil
}

func TestReadPCMStreamCarriesOddReads(t *testing.T) {
	values := []int16{100, -200, 300, -400, 500, -600, 700, -32768}
	data := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	want := BytesToFloat32(data)

	for _, sizes := range [][]int{{3}, {1}, {3, 5, 1, 7}, {2, 3}} {
		samples, err := readPCMStream(&chunkedReader{data: data, sizes: sizes})
		if err != nil {
			t.Fatalf("sizes %v: read failed: %v", sizes, err)
		}
		if len(samples) != len(want) {
			t.Fatalf("sizes %v: got %d samples, want %d", sizes, len(samples), len(want))
		}
		for i := range want {
			if samples[i] != want[i] {
				t.Fatalf("sizes %v: sample %d = %v, want %v", sizes, i, samples[i], want[i])
			}
		}
	}
}

func TestBufferDuration(t *testing.T) {
	buf := &Buffer{Samples: make([]float32, 24000), SampleRate: 16000}
	if got := buf.DurationSec(); got != 1.5 {
		t.Errorf("DurationSec = %v, want 1.5", got)
	}
	if got := buf.DurationMS(); got != 1500 {
		t.Errorf("DurationMS = %v, want 1500", got)
	}
}

func TestBytesToFloat32(t *testing.T) {
	// 0x7FFF -> just under 1.0, 0x8000 -> -1.0
	data := []byte{0xFF, 0x7F, 0x00, 0x80, 0x00, 0x00}
	samples := BytesToFloat32(data)
	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}
	if samples[0] <= 0.99 || samples[0] >= 1.0 {
		t.Errorf("max sample = %v", samples[0])
	}
	if samples[1] != -1.0 {
		t.Errorf("min sample = %v, want -1.0", samples[1])
	}
	if samples[2] != 0 {
		t.Errorf("zero sample = %v", samples[2])
	}
}
