// Package server exposes key analysis over HTTP with Echo.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/RyanBlaney/sonido-key/algorithms/temporal"
	"github.com/RyanBlaney/sonido-key/keyfind"
	"github.com/RyanBlaney/sonido-key/logging"
	"github.com/RyanBlaney/sonido-key/transcode"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// Config holds server configuration
type Config struct {
	Addr string `json:"addr"`
	// MaxConcurrent bounds simultaneous decode+analysis jobs
	MaxConcurrent int    `json:"max_concurrent"`
	MaxUploadSize string `json:"max_upload_size"` // echo body limit, e.g. "50M"
	// RequestsPerSecond throttles /api/analyze across all clients; 0 disables
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:              ":8080",
		MaxConcurrent:     2,
		MaxUploadSize:     "50M",
		RequestsPerSecond: 4,
		Burst:             8,
	}
}

// AnalyzeResponse is the JSON body returned by POST /api/analyze
type AnalyzeResponse struct {
	Key        string         `json:"key"`
	Confidence float64        `json:"confidence"`
	Display    string         `json:"display"`
	Tempo      temporal.Tempo `json:"bpm"`
	Duration   float64        `json:"duration"` // seconds of decoded audio
	Votes      int            `json:"votes,omitempty"`
	Segments   int            `json:"segments,omitempty"`
}

// Server serves the analysis API
type Server struct {
	echo     *echo.Echo
	config   *Config
	analyzer *keyfind.Analyzer
	decoder  *transcode.Decoder
	slots    chan struct{}
	limiter  *rate.Limiter
	logger   logging.Logger
}

// New creates a server; nil config or decoder use defaults
func New(config *Config, analyzer *keyfind.Analyzer, decoder *transcode.Decoder) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if decoder == nil {
		decoder = transcode.NewDecoder(nil)
	}

	s := &Server{
		echo:     echo.New(),
		config:   config,
		analyzer: analyzer,
		decoder:  decoder,
		slots:    make(chan struct{}, max(config.MaxConcurrent, 1)),
		logger: logging.WithFields(logging.Fields{
			"component": "http_server",
		}),
	}

	if config.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), max(config.Burst, 1))
	}

	e := s.echo
	e.HideBanner = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if config.MaxUploadSize != "" {
		e.Use(middleware.BodyLimit(config.MaxUploadSize))
	}

	// Routes
	e.GET("/api/health", s.health)
	e.POST("/api/analyze", s.analyze)

	return s
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address until Shutdown
func (s *Server) Start() error {
	s.logger.Info("Starting server", logging.Fields{
		"addr":           s.config.Addr,
		"max_concurrent": cap(s.slots),
	})
	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"busy":   len(s.slots),
		"slots":  cap(s.slots),
		"native": s.decoder.SupportedFormats(),
	})
}

func (s *Server) analyze(c echo.Context) error {
	if s.limiter != nil && !s.limiter.Allow() {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}

	window, err := parseWindow(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	segments := 0
	if v := c.QueryParam("segments"); v != "" {
		segments, err = strconv.Atoi(v)
		if err != nil || segments < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "segments must be a non-negative integer")
		}
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing audio file in form field \"file\"")
	}

	ctx := logging.ContextWithFields(c.Request().Context(), logging.Fields{
		"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
		"upload":     fileHeader.Filename,
	})
	logger := s.logger.WithContext(ctx)

	release, err := s.acquire(ctx)
	if err != nil {
		logger.Warn("Request cancelled while waiting for an analysis slot")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server busy")
	}
	defer release()

	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable upload")
	}
	defer src.Close()

	audio, err := s.decoder.DecodeReader(ctx, src, fileHeader.Filename)
	if err != nil {
		logger.Warn("Failed to decode upload", logging.Fields{"error": err.Error()})
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("could not decode audio: %v", err))
	}

	buf := keyfind.Buffer{Samples: audio.PCM, SampleRate: audio.SampleRate}.Slice(window)

	resp := AnalyzeResponse{Duration: buf.Duration().Seconds()}

	if segments > 0 {
		vote, err := s.analyzer.VoteSegments(ctx, buf, segments)
		if err != nil {
			return s.analysisFailed(err, logger)
		}
		resp.Key = vote.Key
		resp.Confidence = keyfind.RoundConfidence(vote.Confidence)
		resp.Display = keyfind.FormatKeyDisplay(vote.Key, vote.Confidence)
		resp.Tempo = vote.Tempo
		resp.Votes = vote.Votes
		resp.Segments = len(vote.Segments)
	} else {
		result, err := s.analyzer.Analyze(ctx, buf)
		if err != nil {
			return s.analysisFailed(err, logger)
		}
		resp.Key = result.Key.Label
		resp.Confidence = keyfind.RoundConfidence(result.Key.Confidence)
		resp.Display = result.Display()
		resp.Tempo = result.Tempo
	}

	return c.JSON(http.StatusOK, resp)
}

// acquire takes an analysis slot, giving up when ctx ends first
func (s *Server) acquire(ctx context.Context) (func(), error) {
	select {
	case s.slots <- struct{}{}:
		return func() { <-s.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) analysisFailed(err error, logger logging.Logger) error {
	var analysisErr *keyfind.AnalysisError
	switch {
	case errors.As(err, &analysisErr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "analysis cancelled")
	default:
		logger.Error(err, "Analysis failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "analysis failed")
	}
}

// parseWindow reads the optional offset and duration query parameters,
// both in seconds
func parseWindow(c echo.Context) (keyfind.Window, error) {
	var w keyfind.Window
	for _, p := range []struct {
		name string
		dst  *time.Duration
	}{
		{"offset", &w.Offset},
		{"duration", &w.Duration},
	} {
		v := c.QueryParam(p.name)
		if v == "" {
			continue
		}
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || !(secs >= 0 && secs < 1e6) {
			return w, fmt.Errorf("%s must be a non-negative number of seconds", p.name)
		}
		*p.dst = time.Duration(secs * float64(time.Second))
	}
	return w, nil
}
