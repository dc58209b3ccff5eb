package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestEncodeUtteranceLength(t *testing.T) {
	cases := []struct {
		n          int
		sourceRate int
	}{
		{0, 48000},
		{1, 48000},
		{2, 48000},
		{3, 48000},
		{4800, 48000},
		{4801, 48000},
		{1000, 44100},
		{44100, 44100},
		{7, 22050},
		{960, 32000},
	}
	for _, tc := range cases {
		samples := make([]float32, tc.n)
		for i := range samples {
			samples[i] = float32(math.Sin(float64(i) / 10))
		}
		got := EncodeUtterance(samples, tc.sourceRate, TargetSampleRate)
		ratio := float64(tc.sourceRate) / float64(TargetSampleRate)
		want := int(math.Round(float64(tc.n) / ratio))
		if len(got.PCM) != 2*want {
			t.Fatalf("n=%d rate=%d: len(PCM) = %d, want %d", tc.n, tc.sourceRate, len(got.PCM), 2*want)
		}
		if got.Samples != want {
			t.Fatalf("n=%d rate=%d: Samples = %d, want %d", tc.n, tc.sourceRate, got.Samples, want)
		}
		if got.SampleRate != TargetSampleRate {
			t.Fatalf("SampleRate = %d, want %d", got.SampleRate, TargetSampleRate)
		}
	}
}

func TestEncodeUtteranceDeterministic(t *testing.T) {
	samples := make([]float32, 4410)
	for i := range samples {
		samples[i] = float32(math.Cos(float64(i) / 7))
	}
	a := EncodeUtterance(samples, 44100, TargetSampleRate)
	b := EncodeUtterance(samples, 44100, TargetSampleRate)
	if !bytes.Equal(a.PCM, b.PCM) {
		t.Fatalf("EncodeUtterance() is not deterministic")
	}
}

func TestDownsampleAveragesBlocks(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3, 0.5, 0.5, 0.5}
	out := Downsample(in, 48000, 16000)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if math.Abs(float64(out[0])-0.2) > 1e-6 {
		t.Fatalf("out[0] = %v, want 0.2", out[0])
	}
	if math.Abs(float64(out[1])-0.5) > 1e-6 {
		t.Fatalf("out[1] = %v, want 0.5", out[1])
	}
}

func TestDownsamplePassthrough(t *testing.T) {
	in := []float32{0.25, -0.5, 1}
	for _, rate := range []int{16000, 8000} {
		out := Downsample(in, rate, TargetSampleRate)
		if len(out) != len(in) {
			t.Fatalf("rate=%d: len(out) = %d, want %d", rate, len(out), len(in))
		}
		for i := range in {
			if out[i] != in[i] {
				t.Fatalf("rate=%d: out[%d] = %v, want %v", rate, i, out[i], in[i])
			}
		}
	}
	enc := EncodeUtterance(in, 8000, TargetSampleRate)
	if enc.SampleRate != 8000 {
		t.Fatalf("SampleRate = %d, want 8000", enc.SampleRate)
	}
}

func TestPCM16LEQuantizesAndClamps(t *testing.T) {
	in := []float32{0, 1, -1, 2, -2, 0.5, float32(math.NaN())}
	want := []int16{0, 32767, -32767, 32767, -32768, 16384, 0}
	got := PCM16LE(in)
	if len(got) != 2*len(in) {
		t.Fatalf("len = %d, want %d", len(got), 2*len(in))
	}
	for i, w := range want {
		v := int16(binary.LittleEndian.Uint16(got[2*i:]))
		if v != w {
			t.Fatalf("sample %d = %d, want %d", i, v, w)
		}
	}
}

func TestEncodedBufferDuration(t *testing.T) {
	b := EncodedBuffer{SampleRate: 16000, Samples: 8000}
	if got := b.Duration().Milliseconds(); got != 500 {
		t.Fatalf("Duration() = %dms, want 500ms", got)
	}
	if !(EncodedBuffer{}).Empty() {
		t.Fatalf("zero EncodedBuffer should be empty")
	}
}

func TestWAVHeader(t *testing.T) {
	b := EncodedBuffer{PCM: []byte{1, 0, 2, 0}, SampleRate: 16000, Samples: 2}
	wav := b.WAV()
	if len(wav) != 48 {
		t.Fatalf("len(wav) = %d, want 48", len(wav))
	}
	if !IsWAV(wav) {
		t.Fatalf("IsWAV() = false, want true")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Fatalf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 4 {
		t.Fatalf("data size = %d, want 4", got)
	}
	if IsWAV([]byte{1, 2, 3}) {
		t.Fatalf("IsWAV(short) = true, want false")
	}
}
