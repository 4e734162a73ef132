package transcode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// decodeMP3 decodes an MP3 stream to mono. go-mp3 always produces 16-bit
// signed stereo, interleaved little-endian.
func decodeMP3(r io.Reader) ([]float64, *AudioMetadata, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode mp3: %w", err)
	}

	pairs := len(pcm) / 4
	samples := make([]float64, pairs)
	for i := range pairs {
		left := int16(binary.LittleEndian.Uint16(pcm[i*4:]))
		right := int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))
		samples[i] = (float64(left) + float64(right)) / 2.0 / 32768.0
	}

	sampleRate := decoder.SampleRate()
	return samples, &AudioMetadata{
		Format:     FormatMP3,
		SampleRate: sampleRate,
		Channels:   2,
		BitDepth:   16,
		Codec:      "mp3",
		Duration:   float64(pairs) / float64(sampleRate),
	}, nil
}
