// CLI for musical key and tempo analysis of audio files.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RyanBlaney/sonido-key/keyfind"
	"github.com/RyanBlaney/sonido-key/logging"
	"github.com/RyanBlaney/sonido-key/server"
	"github.com/RyanBlaney/sonido-key/transcode"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Environment defaults, optionally loaded from .env
const (
	envFFmpeg   = "KEYFIND_FFMPEG"
	envAddr     = "KEYFIND_ADDR"
	envLogLevel = "KEYFIND_LOG_LEVEL"
)

type options struct {
	logLevel string
	ffmpeg   string
	ffprobe  string

	offset   time.Duration
	duration time.Duration
	segments int
	asJSON   bool
	noTempo  bool

	addr          string
	maxConcurrent int
}

func main() {
	// A missing .env is fine; the environment may already be set
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Warn("Ignoring unreadable .env", logging.Fields{"error": err.Error()})
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "keyfind",
		Short:         "Musical key and tempo detection",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			logging.SetLevel(level)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", envOr(envLogLevel, "warn"), "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.ffmpeg, "ffmpeg", envOr(envFFmpeg, "ffmpeg"), "Path to ffmpeg for formats other than WAV and MP3")
	rootCmd.PersistentFlags().StringVar(&opts.ffprobe, "ffprobe", "ffprobe", "Path to ffprobe")

	rootCmd.AddCommand(newAnalyzeCmd(opts), newServeCmd(opts))
	return rootCmd
}

func newAnalyzeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <file>...",
		Short: "Detect the key and tempo of audio files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), opts, args)
		},
	}

	cmd.Flags().DurationVar(&opts.offset, "offset", 0, "Start analysis at this offset")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Analyze at most this much audio after the offset (0 = to the end)")
	cmd.Flags().IntVar(&opts.segments, "segments", 0, "Vote across this many segments instead of a single window")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print one JSON object per file")
	cmd.Flags().BoolVar(&opts.noTempo, "no-tempo", false, "Skip tempo estimation")

	return cmd
}

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", envOr(envAddr, ":8080"), "Listen address")
	cmd.Flags().IntVar(&opts.maxConcurrent, "max-concurrent", 2, "Maximum simultaneous analyses")

	return cmd
}

// fileReport is the per-file output of the analyze command
type fileReport struct {
	File       string  `json:"file"`
	Key        string  `json:"key,omitempty"`
	Confidence float64 `json:"confidence"`
	Display    string  `json:"display"`
	BPM        any     `json:"bpm"`
	Votes      int     `json:"votes,omitempty"`
	Error      string  `json:"error,omitempty"`
}

func runAnalyze(ctx context.Context, out io.Writer, opts *options, files []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := keyfind.DefaultConfig()
	cfg.EstimateTempo = !opts.noTempo

	analyzer, err := keyfind.NewAnalyzer(cfg)
	if err != nil {
		return fmt.Errorf("create analyzer: %w", err)
	}
	decoder := newDecoder(opts)

	failed := 0
	enc := json.NewEncoder(out)
	for _, file := range files {
		report := analyzeFile(ctx, analyzer, decoder, opts, file)
		if report.Error != "" {
			failed++
		}

		if opts.asJSON {
			if err := enc.Encode(report); err != nil {
				return err
			}
			continue
		}

		if report.Error != "" {
			fmt.Fprintf(out, "%s: error: %s\n", file, report.Error)
			continue
		}
		fmt.Fprintf(out, "%s: %s, %v\n", file, report.Display, report.BPM)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func analyzeFile(ctx context.Context, analyzer *keyfind.Analyzer, decoder *transcode.Decoder, opts *options, file string) fileReport {
	report := fileReport{File: file}

	audio, err := decoder.DecodeFile(ctx, file)
	if err != nil {
		report.Error = err.Error()
		report.Display = keyfind.FormatKeyDisplay("", 0)
		return report
	}

	buf := keyfind.Buffer{Samples: audio.PCM, SampleRate: audio.SampleRate}.
		Slice(keyfind.Window{Offset: opts.offset, Duration: opts.duration})

	if opts.segments > 0 {
		vote, err := analyzer.VoteSegments(ctx, buf, opts.segments)
		if err != nil {
			report.Error = err.Error()
			report.Display = keyfind.FormatKeyDisplay("", 0)
			return report
		}
		report.Key = vote.Key
		report.Confidence = keyfind.RoundConfidence(vote.Confidence)
		report.Display = keyfind.FormatKeyDisplay(vote.Key, vote.Confidence)
		report.BPM = vote.Tempo
		report.Votes = vote.Votes
		return report
	}

	result, err := analyzer.Analyze(ctx, buf)
	if err != nil {
		report.Error = err.Error()
		report.Display = keyfind.FormatKeyDisplay("", 0)
		return report
	}
	report.Key = result.Key.Label
	report.Confidence = keyfind.RoundConfidence(result.Key.Confidence)
	report.Display = result.Display()
	report.BPM = result.Tempo
	return report
}

func runServe(ctx context.Context, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	analyzer, err := keyfind.NewAnalyzer(nil)
	if err != nil {
		return fmt.Errorf("create analyzer: %w", err)
	}

	cfg := server.DefaultConfig()
	cfg.Addr = opts.addr
	cfg.MaxConcurrent = opts.maxConcurrent

	decoder := newDecoder(opts)
	if err := decoder.CheckFFmpeg(ctx); err != nil {
		logging.Warn("ffmpeg unavailable, only native formats will decode", logging.Fields{
			"formats": decoder.SupportedFormats(),
			"error":   err.Error(),
		})
	}

	srv := server.New(cfg, analyzer, decoder)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newDecoder(opts *options) *transcode.Decoder {
	cfg := transcode.DefaultDecoderConfig()
	cfg.FFmpegPath = opts.ffmpeg
	cfg.FFprobePath = opts.ffprobe
	return transcode.NewDecoder(cfg)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
