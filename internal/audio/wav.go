// Package audio holds PCM conversions and WAV file I/O used by hosts.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Clip is decoded mono or interleaved 16-bit PCM.
type Clip struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// DecodeFile reads a PCM WAV file into 16-bit samples.
func DecodeFile(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a PCM WAV stream. Samples of other bit depths are rescaled to
// 16 bits.
func Decode(r io.ReadSeeker) (Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Clip{}, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return Clip{}, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil {
		return Clip{}, errors.New("empty wav buffer")
	}

	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = int(dec.BitDepth)
	}
	if depth <= 0 {
		depth = 16
	}
	out := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = rescale(v, depth)
	}

	clip := Clip{Samples: out, SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	if clip.SampleRate == 0 && buf.Format != nil {
		clip.SampleRate = buf.Format.SampleRate
	}
	if clip.Channels == 0 {
		clip.Channels = 1
	}
	return clip, nil
}

func rescale(v, depth int) int16 {
	switch {
	case depth == 16:
		return int16(v)
	case depth == 8:
		// 8-bit WAV is unsigned
		return int16((v - 128) << 8)
	case depth > 16:
		return int16(v >> (depth - 16))
	default:
		return int16(v << (16 - depth))
	}
}

// Write encodes mono 16-bit samples as a WAV stream on w.
func Write(w io.WriteSeeker, samples []int16, sampleRate int) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// PCM16LE converts little-endian PCM bytes to samples. A trailing odd byte
// is an error.
func PCM16LE(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, errors.New("pcm payload not aligned")
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out, nil
}

// Mono averages interleaved channels down to one.
func Mono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// Resample converts samples from inRate to outRate using linear interpolation.
func Resample(samples []int16, inRate, outRate int) []int16 {
	if inRate <= 0 || outRate <= 0 || inRate == outRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(outRate) / float64(inRate)
	outLen := int(math.Round(float64(len(samples)) * ratio))
	if outLen < 1 {
		outLen = 1
	}
	out := make([]int16, outLen)
	for i := range out {
		pos := float64(i) / ratio
		i0 := int(pos)
		if i0 >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(i0)
		s0, s1 := float64(samples[i0]), float64(samples[i0+1])
		out[i] = int16(math.Round(s0 + (s1-s0)*frac))
	}
	return out
}

// Normalize returns the clip as mono samples at sampleRate.
func (c Clip) Normalize(sampleRate int) []int16 {
	return Resample(Mono(c.Samples, c.Channels), c.SampleRate, sampleRate)
}
