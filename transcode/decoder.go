package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-key/algorithms/filters"
	"github.com/RyanBlaney/sonido-key/logging"
)

// AudioData is decoded mono audio ready for analysis
type AudioData struct {
	PCM        []float64      `json:"-"` // Mono samples in [-1, 1]
	SampleRate int            `json:"sample_rate"`
	Duration   time.Duration  `json:"duration"`
	Source     *AudioMetadata `json:"source,omitempty"`
}

// AudioMetadata describes the input before downmixing and resampling
type AudioMetadata struct {
	Name       string  `json:"name,omitempty"`
	Format     Format  `json:"format"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	BitDepth   int     `json:"bit_depth,omitempty"`
	Codec      string  `json:"codec,omitempty"`
	Duration   float64 `json:"duration"` // seconds, as reported by the container
	Bitrate    int     `json:"bitrate,omitempty"`
}

// Format identifies a container recognised by the decoder
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatUnknown Format = "unknown" // handed to ffmpeg
)

// ErrNoAudio is returned when a file decodes to zero samples
var ErrNoAudio = errors.New("no audio samples decoded")

// DecoderConfig holds decoder configuration
type DecoderConfig struct {
	// TargetSampleRate is the output rate; 0 keeps the source rate
	TargetSampleRate int           `json:"target_sample_rate"`
	MaxDuration      time.Duration `json:"max_duration"` // 0 decodes everything
	RemoveDC         bool          `json:"remove_dc"`
	DCCutoff         float64       `json:"dc_cutoff"` // Hz
	ResampleTaps     int           `json:"resample_taps"`
	FFmpegPath       string        `json:"ffmpeg_path"`  // Path to ffmpeg binary
	FFprobePath      string        `json:"ffprobe_path"` // Path to ffprobe binary
	Timeout          time.Duration `json:"timeout"`      // Timeout for ffmpeg operations
}

// DefaultDecoderConfig returns default decoder configuration
func DefaultDecoderConfig() *DecoderConfig {
	return &DecoderConfig{
		TargetSampleRate: 22050,
		MaxDuration:      0,
		RemoveDC:         true,
		DCCutoff:         10,
		ResampleTaps:     63,
		FFmpegPath:       "ffmpeg",  // Assume in PATH
		FFprobePath:      "ffprobe", // Assume in PATH
		Timeout:          60 * time.Second,
	}
}

// Decoder turns audio files into mono PCM. WAV and MP3 are decoded in
// process; anything else goes through ffmpeg.
type Decoder struct {
	config    *DecoderConfig
	resampler *filters.Resampler
	logger    logging.Logger
}

// NewDecoder creates a new audio decoder
func NewDecoder(config *DecoderConfig) *Decoder {
	if config == nil {
		config = DefaultDecoderConfig()
	}
	return &Decoder{
		config:    config,
		resampler: filters.NewResampler(config.ResampleTaps),
		logger: logging.WithFields(logging.Fields{
			"component": "audio_decoder",
		}),
	}
}

// DecodeFile decodes an audio file into mono PCM at the target rate
func (d *Decoder) DecodeFile(ctx context.Context, filename string) (*AudioData, error) {
	logger := d.logger.WithContext(ctx).WithFields(logging.Fields{
		"function": "DecodeFile",
		"filename": filename,
	})

	logger.Debug("Starting audio file decode")

	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	header := make([]byte, 12)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("failed to read audio header: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind audio file: %w", err)
	}

	format := DetectFormat(header[:n], filename)
	logger.Debug("Detected audio format", logging.Fields{"format": format})

	var samples []float64
	var meta *AudioMetadata

	switch format {
	case FormatWAV:
		samples, meta, err = decodeWAV(f)
		if errors.Is(err, errUnsupportedWAV) {
			logger.Debug("WAV encoding not handled natively, using ffmpeg")
			samples, meta, err = d.decodeWithFFmpeg(ctx, filename, nil)
		}
	case FormatMP3:
		samples, meta, err = decodeMP3(f)
	default:
		samples, meta, err = d.decodeWithFFmpeg(ctx, filename, nil)
	}
	if err != nil {
		logger.Error(err, "Failed to decode audio file")
		return nil, err
	}

	meta.Name = filepath.Base(filename)
	return d.finish(samples, meta, logger)
}

// DecodeReader decodes audio from r. name is only used as a format hint and
// for logging.
func (d *Decoder) DecodeReader(ctx context.Context, r io.Reader, name string) (*AudioData, error) {
	logger := d.logger.WithContext(ctx).WithFields(logging.Fields{
		"function": "DecodeReader",
		"name":     name,
	})

	data, err := io.ReadAll(r)
	if err != nil {
		logger.Error(err, "Failed to read data from reader")
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty audio data")
	}

	logger.Debug("Data read from reader", logging.Fields{
		"data_size": len(data),
	})

	var samples []float64
	var meta *AudioMetadata

	switch DetectFormat(data, name) {
	case FormatWAV:
		samples, meta, err = decodeWAV(bytes.NewReader(data))
		if errors.Is(err, errUnsupportedWAV) {
			samples, meta, err = d.decodeWithFFmpeg(ctx, "pipe:0", data)
		}
	case FormatMP3:
		samples, meta, err = decodeMP3(bytes.NewReader(data))
	default:
		samples, meta, err = d.decodeWithFFmpeg(ctx, "pipe:0", data)
	}
	if err != nil {
		logger.Error(err, "Failed to decode audio data")
		return nil, err
	}

	meta.Name = name
	return d.finish(samples, meta, logger)
}

// finish applies the duration limit, DC blocking and resampling shared by
// every input format.
func (d *Decoder) finish(samples []float64, meta *AudioMetadata, logger logging.Logger) (*AudioData, error) {
	if len(samples) == 0 {
		return nil, ErrNoAudio
	}

	rate := meta.SampleRate
	if d.config.MaxDuration > 0 {
		limit := int(d.config.MaxDuration.Seconds() * float64(rate))
		if limit < len(samples) {
			samples = samples[:limit]
		}
	}

	if d.config.RemoveDC {
		samples = filters.NewDCRemoval(rate, d.config.DCCutoff).ProcessBuffer(samples)
	}

	if target := d.config.TargetSampleRate; target > 0 && target != rate {
		resampled, err := d.resampler.Process(samples, rate, target)
		if err != nil {
			return nil, fmt.Errorf("failed to resample audio: %w", err)
		}
		samples, rate = resampled, target
	}

	duration := time.Duration(float64(len(samples)) / float64(rate) * float64(time.Second))

	logger.Debug("Audio decode completed", logging.Fields{
		"input_format":       meta.Format,
		"input_sample_rate":  meta.SampleRate,
		"input_channels":     meta.Channels,
		"output_samples":     len(samples),
		"output_sample_rate": rate,
		"output_duration":    duration.Seconds(),
	})

	return &AudioData{
		PCM:        samples,
		SampleRate: rate,
		Duration:   duration,
		Source:     meta,
	}, nil
}

// DetectFormat identifies WAV and MP3 by their magic bytes, falling back to
// the file extension.
func DetectFormat(header []byte, name string) Format {
	switch {
	case len(header) >= 12 && string(header[0:4]) == "RIFF" && string(header[8:12]) == "WAVE":
		return FormatWAV
	case len(header) >= 3 && string(header[0:3]) == "ID3":
		return FormatMP3
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0 && header[1]&0x06 != 0:
		// MPEG audio frame sync with a layer set
		return FormatMP3
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".wave":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	}
	return FormatUnknown
}

// ValidateConfig validates the decoder configuration
func (d *Decoder) ValidateConfig() error {
	if d.config.TargetSampleRate < 0 {
		return fmt.Errorf("target sample rate cannot be negative: %d", d.config.TargetSampleRate)
	}

	if d.config.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive: %v", d.config.Timeout)
	}

	if d.config.RemoveDC && d.config.DCCutoff <= 0 {
		return fmt.Errorf("dc cutoff must be positive: %.1f", d.config.DCCutoff)
	}

	return nil
}

// SupportedFormats returns the formats decoded without ffmpeg
func (d *Decoder) SupportedFormats() []Format {
	return []Format{FormatWAV, FormatMP3}
}

// downmix averages interleaved channels into one
func downmix(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		return interleaved
	}

	frames := len(interleaved) / channels
	mono := make([]float64, frames)
	for i := range frames {
		sum := 0.0
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		mono[i] = sum / float64(channels)
	}
	return mono
}
