package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// TargetSampleRate is the canonical transmission rate for user utterances.
const TargetSampleRate = 16000

// EncodedBuffer is one utterance as mono PCM16LE at SampleRate.
type EncodedBuffer struct {
	PCM        []byte
	SampleRate int
	Samples    int
}

func (b EncodedBuffer) Empty() bool { return b.Samples == 0 }

func (b EncodedBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Samples) * time.Second / time.Duration(b.SampleRate)
}

// Downsample reduces samples from sourceRate to targetRate by block averaging: each output
// sample is the mean of the input samples in its ratio window. When the ratio is <= 1 the
// input is returned unchanged (copied); upsampling is never performed.
func Downsample(samples []float32, sourceRate, targetRate int) []float32 {
	if sourceRate <= 0 || targetRate <= 0 || targetRate >= sourceRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	ratio := float64(sourceRate) / float64(targetRate)
	out := make([]float32, int(math.Round(float64(len(samples))/ratio)))

	offset := 0
	for i := range out {
		next := int(math.Round(float64(i+1) * ratio))
		var sum float64
		count := 0
		for j := offset; j < next && j < len(samples); j++ {
			sum += float64(samples[j])
			count++
		}
		if count > 0 {
			out[i] = float32(sum / float64(count))
		}
		offset = next
	}
	return out
}

// PCM16LE quantizes float samples in [-1, 1] to signed 16-bit little-endian PCM using
// round(s*32767) clamped to the int16 range.
func PCM16LE(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if math.IsNaN(v) {
			v = 0
		} else if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}

// EncodeUtterance downsamples raw samples to targetRate and quantizes them.
// The result is a pure function of its inputs.
func EncodeUtterance(samples []float32, sourceRate, targetRate int) EncodedBuffer {
	down := Downsample(samples, sourceRate, targetRate)
	rate := targetRate
	if targetRate <= 0 || (sourceRate > 0 && targetRate >= sourceRate) {
		rate = sourceRate
	}
	return EncodedBuffer{
		PCM:        PCM16LE(down),
		SampleRate: rate,
		Samples:    len(down),
	}
}
