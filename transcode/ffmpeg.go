package transcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/RyanBlaney/sonido-key/logging"
)

// decodeWithFFmpeg probes input and decodes it to mono float64 at the
// source rate. stdin is fed to ffmpeg when input is "pipe:0".
func (d *Decoder) decodeWithFFmpeg(ctx context.Context, input string, stdin []byte) ([]float64, *AudioMetadata, error) {
	logger := d.logger.WithContext(ctx).WithFields(logging.Fields{
		"function": "decodeWithFFmpeg",
		"input":    input,
	})

	meta, err := d.probe(ctx, input, stdin)
	if err != nil {
		logger.Error(err, "Failed to probe audio")
		return nil, nil, err
	}

	logger.Debug("Audio metadata detected", logging.Fields{
		"input_sample_rate": meta.SampleRate,
		"input_channels":    meta.Channels,
		"input_codec":       meta.Codec,
		"input_duration":    meta.Duration,
		"input_bitrate":     meta.Bitrate,
	})

	args := []string{
		"-v", "error",
		"-i", input,
		"-map", "0:a:0",
		"-vn",
		"-f", "f64le",
		"-ac", "1",
		"-ar", strconv.Itoa(meta.SampleRate),
	}
	if d.config.MaxDuration > 0 {
		args = append(args, "-t", fmt.Sprintf("%.3f", d.config.MaxDuration.Seconds()))
	}
	args = append(args, "pipe:1")

	output, err := d.run(ctx, d.config.FFmpegPath, args, stdin)
	if err != nil {
		logger.Error(err, "FFmpeg decode failed")
		return nil, nil, fmt.Errorf("ffmpeg decode: %w", err)
	}

	samples := bytesToFloat64(output)
	if len(samples) == 0 {
		return nil, nil, ErrNoAudio
	}

	meta.Format = FormatUnknown
	return samples, meta, nil
}

// probe runs ffprobe on the first audio stream of input
func (d *Decoder) probe(ctx context.Context, input string, stdin []byte) (*AudioMetadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "a:0",
		input,
	}

	output, err := d.run(ctx, d.config.FFprobePath, args, stdin)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", input, err)
	}

	return parseFFprobeOutput(output)
}

// run executes a command under the configured timeout and returns stdout.
// Exit failures carry ffmpeg's stderr.
func (d *Decoder) run(ctx context.Context, path string, args []string, stdin []byte) ([]byte, error) {
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	d.logger.Debug("Running command", logging.Fields{
		"command": fmt.Sprintf("%s %s", path, strings.Join(args, " ")),
	})

	output, err := cmd.Output()
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return nil, fmt.Errorf("%w, stderr: %s", err, strings.TrimSpace(string(exitError.Stderr)))
		}
		return nil, err
	}
	return output, nil
}

// parseFFprobeOutput reads the first stream of `ffprobe -show_streams` JSON
func parseFFprobeOutput(jsonData []byte) (*AudioMetadata, error) {
	var probe struct {
		Streams []struct {
			CodecType  string `json:"codec_type"`
			CodecName  string `json:"codec_name"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
			Duration   string `json:"duration"`
			BitRate    string `json:"bit_rate"`
		} `json:"streams"`
	}

	if err := json.Unmarshal(jsonData, &probe); err != nil {
		return nil, fmt.Errorf("decode probe output: %w", err)
	}

	if len(probe.Streams) == 0 {
		return nil, ErrNoAudio
	}

	stream := probe.Streams[0]

	if stream.CodecType != "audio" {
		return nil, fmt.Errorf("first stream is %q, not audio", stream.CodecType)
	}

	sampleRate, err := strconv.Atoi(stream.SampleRate)
	if err != nil || sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %q", stream.SampleRate)
	}

	// Duration and bitrate are optional in many containers
	duration, _ := strconv.ParseFloat(stream.Duration, 64)
	bitrate, _ := strconv.Atoi(stream.BitRate)

	if stream.Channels <= 0 || stream.Channels > 8 {
		return nil, fmt.Errorf("unsupported channel count %d", stream.Channels)
	}

	return &AudioMetadata{
		SampleRate: sampleRate,
		Channels:   stream.Channels,
		Codec:      stream.CodecName,
		Duration:   duration,
		Bitrate:    bitrate,
	}, nil
}

// bytesToFloat64 converts raw float64 little-endian bytes to samples,
// dropping any trailing partial sample
func bytesToFloat64(data []byte) []float64 {
	sampleCount := len(data) / 8
	if sampleCount == 0 {
		return nil
	}

	samples := make([]float64, sampleCount)
	for i := range sampleCount {
		bits := binary.LittleEndian.Uint64(data[i*8 : i*8+8])
		samples[i] = math.Float64frombits(bits)
	}
	return samples
}

// CheckFFmpeg reports whether the configured ffmpeg and ffprobe binaries run
func (d *Decoder) CheckFFmpeg(ctx context.Context) error {
	for _, path := range []string{d.config.FFmpegPath, d.config.FFprobePath} {
		if err := exec.CommandContext(ctx, path, "-version").Run(); err != nil {
			return fmt.Errorf("%s not available: %w", path, err)
		}
	}
	return nil
}
