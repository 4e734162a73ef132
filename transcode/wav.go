package transcode

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

var errUnsupportedWAV = errors.New("unsupported wav encoding")

// decodeWAV reads integer PCM WAV data and downmixes it to mono
func decodeWAV(r io.ReadSeeker) ([]float64, *AudioMetadata, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, nil, fmt.Errorf("invalid wav file")
	}

	if decoder.WavAudioFormat != wavFormatPCM {
		return nil, nil, fmt.Errorf("%w: format tag %d", errUnsupportedWAV, decoder.WavAudioFormat)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read wav samples: %w", err)
	}

	bitDepth := int(decoder.BitDepth)
	channels := int(decoder.NumChans)
	if bitDepth <= 0 || bitDepth > 32 || channels <= 0 {
		return nil, nil, fmt.Errorf("invalid wav layout: %d bits, %d channels", bitDepth, channels)
	}

	// Normalize to [-1.0, 1.0]
	scale := float64(int64(1) << (bitDepth - 1))
	samples := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		if bitDepth == 8 {
			// 8-bit WAV is unsigned
			v -= 128
		}
		samples[i] = float64(v) / scale
	}

	sampleRate := int(decoder.SampleRate)
	mono := downmix(samples, channels)

	return mono, &AudioMetadata{
		Format:     FormatWAV,
		SampleRate: sampleRate,
		Channels:   channels,
		BitDepth:   bitDepth,
		Codec:      "pcm",
		Duration:   float64(len(mono)) / float64(sampleRate),
		Bitrate:    sampleRate * channels * bitDepth,
	}, nil
}
