package transcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestWAV writes a 16-bit stereo sine and returns its path
func writeTestWAV(t *testing.T, sampleRate int, seconds, freq, amplitude float64) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	frames := int(seconds * float64(sampleRate))
	data := make([]int, frames*2)
	for i := range frames {
		v := int(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		data[2*i] = v
		data[2*i+1] = v
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 2, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	return path
}

func peak(samples []float64) float64 {
	m := 0.0
	for _, v := range samples {
		m = max(m, math.Abs(v))
	}
	return m
}

func TestDecodeFileWAVResamples(t *testing.T) {
	path := writeTestWAV(t, 44100, 1, 440, 0.5)

	data, err := NewDecoder(nil).DecodeFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 22050, data.SampleRate)
	assert.InDelta(t, 22050, len(data.PCM), 1)
	assert.InDelta(t, time.Second.Seconds(), data.Duration.Seconds(), 0.001)
	assert.InDelta(t, 0.5, peak(data.PCM[2000:]), 0.02)

	require.NotNil(t, data.Source)
	assert.Equal(t, FormatWAV, data.Source.Format)
	assert.Equal(t, 44100, data.Source.SampleRate)
	assert.Equal(t, 2, data.Source.Channels)
	assert.Equal(t, 16, data.Source.BitDepth)
	assert.Equal(t, "tone.wav", data.Source.Name)
}

func TestDecodeFileKeepsNativeRate(t *testing.T) {
	path := writeTestWAV(t, 16000, 0.5, 1000, 0.25)

	cfg := DefaultDecoderConfig()
	cfg.TargetSampleRate = 0
	cfg.RemoveDC = false

	data, err := NewDecoder(cfg).DecodeFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 16000, data.SampleRate)
	assert.Len(t, data.PCM, 8000)
	assert.InDelta(t, 0.25, peak(data.PCM), 0.001)
}

func TestDecodeFileMaxDuration(t *testing.T) {
	path := writeTestWAV(t, 22050, 2, 440, 0.5)

	cfg := DefaultDecoderConfig()
	cfg.MaxDuration = 500 * time.Millisecond

	data, err := NewDecoder(cfg).DecodeFile(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, data.PCM, 11025)
}

func TestDecodeReaderWAV(t *testing.T) {
	raw, err := os.ReadFile(writeTestWAV(t, 22050, 1, 440, 0.5))
	require.NoError(t, err)

	data, err := NewDecoder(nil).DecodeReader(context.Background(), bytes.NewReader(raw), "upload")
	require.NoError(t, err)

	assert.Equal(t, 22050, data.SampleRate)
	assert.Len(t, data.PCM, 22050)
	assert.Equal(t, "upload", data.Source.Name)
}

func TestDecodeReaderEmpty(t *testing.T) {
	_, err := NewDecoder(nil).DecodeReader(context.Background(), bytes.NewReader(nil), "empty.wav")
	assert.Error(t, err)
}

func TestDecodeFileMissing(t *testing.T) {
	_, err := NewDecoder(nil).DecodeFile(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

func TestDecodeUnknownFormatWithoutFFmpeg(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.flac")
	require.NoError(t, os.WriteFile(path, []byte("fLaC not really"), 0o644))

	cfg := DefaultDecoderConfig()
	cfg.FFmpegPath = filepath.Join(t.TempDir(), "no-ffmpeg")
	cfg.FFprobePath = filepath.Join(t.TempDir(), "no-ffprobe")

	_, err := NewDecoder(cfg).DecodeFile(context.Background(), path)
	assert.Error(t, err)
}

func TestDecodeMP3Garbage(t *testing.T) {
	_, _, err := decodeMP3(bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	riff := []byte("RIFF\x00\x00\x00\x00WAVE")

	tests := []struct {
		name   string
		header []byte
		file   string
		want   Format
	}{
		{"riff header", riff, "noext", FormatWAV},
		{"id3 tag", []byte("ID3\x04\x00"), "", FormatMP3},
		{"frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, "", FormatMP3},
		{"wav extension", []byte("junk"), "song.WAV", FormatWAV},
		{"mp3 extension", nil, "song.mp3", FormatMP3},
		{"flac", []byte("fLaC"), "song.flac", FormatUnknown},
		{"header wins over extension", riff, "song.mp3", FormatWAV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.header, tt.file))
		})
	}
}

func TestDownmix(t *testing.T) {
	assert.Equal(t, []float64{0.5, 0, 1}, downmix([]float64{1, 0, -1, 1, 1, 1}, 2))

	mono := []float64{0.1, 0.2}
	assert.Equal(t, mono, downmix(mono, 1))
}

func TestBytesToFloat64(t *testing.T) {
	raw := make([]byte, 20)
	binary.LittleEndian.PutUint64(raw[0:], math.Float64bits(0.25))
	binary.LittleEndian.PutUint64(raw[8:], math.Float64bits(-1))

	assert.Equal(t, []float64{0.25, -1}, bytesToFloat64(raw))
	assert.Nil(t, bytesToFloat64(raw[:7]))
}

func TestParseFFprobeOutput(t *testing.T) {
	meta, err := parseFFprobeOutput([]byte(`{"streams":[{"codec_type":"audio","codec_name":"flac",
		"sample_rate":"48000","channels":2,"duration":"12.5","bit_rate":"900000"}]}`))
	require.NoError(t, err)

	assert.Equal(t, 48000, meta.SampleRate)
	assert.Equal(t, 2, meta.Channels)
	assert.Equal(t, "flac", meta.Codec)
	assert.InDelta(t, 12.5, meta.Duration, 1e-9)
	assert.Equal(t, 900000, meta.Bitrate)

	_, err = parseFFprobeOutput([]byte(`{"streams":[]}`))
	assert.Error(t, err)

	_, err = parseFFprobeOutput([]byte(`{"streams":[{"codec_type":"video","sample_rate":"48000","channels":2}]}`))
	assert.Error(t, err)

	_, err = parseFFprobeOutput([]byte(`not json`))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, NewDecoder(nil).ValidateConfig())

	cfg := DefaultDecoderConfig()
	cfg.Timeout = 0
	assert.Error(t, NewDecoder(cfg).ValidateConfig())

	cfg = DefaultDecoderConfig()
	cfg.DCCutoff = 0
	assert.Error(t, NewDecoder(cfg).ValidateConfig())
}

func TestCheckFFmpegMissingBinary(t *testing.T) {
	cfg := DefaultDecoderConfig()
	cfg.FFmpegPath = filepath.Join(t.TempDir(), "no-ffmpeg")

	err := NewDecoder(cfg).CheckFFmpeg(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-ffmpeg")
}
