package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/RyanBlaney/sonido-key/keyfind"
	"github.com/RyanBlaney/sonido-key/transcode"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 22050

// wavBytes encodes a 16-bit mono WAV of summed sines
func wavBytes(t *testing.T, seconds float64, freqs ...float64) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "upload.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	data := make([]int, int(seconds*testRate))
	for i := range data {
		v := 0.0
		for _, freq := range freqs {
			v += 0.3 * math.Sin(2*math.Pi*freq*float64(i)/testRate)
		}
		data[i] = int(v * 32767)
	}

	enc := wav.NewEncoder(f, testRate, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: testRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return raw
}

func multipartBody(t *testing.T, field, filename string, content []byte) (io.Reader, string) {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return &body, w.FormDataContentType()
}

func newTestServer(t *testing.T, cfg *Config) *Server {
	t.Helper()

	analyzer, err := keyfind.NewAnalyzer(nil)
	require.NoError(t, err)

	decoderCfg := transcode.DefaultDecoderConfig()
	decoderCfg.FFmpegPath = filepath.Join(t.TempDir(), "no-ffmpeg")
	decoderCfg.FFprobePath = filepath.Join(t.TempDir(), "no-ffprobe")

	return New(cfg, analyzer, transcode.NewDecoder(decoderCfg))
}

func postAudio(t *testing.T, s *Server, query, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := multipartBody(t, "file", filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/analyze"+query, body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 2, body["slots"])
	assert.ElementsMatch(t, []any{"wav", "mp3"}, body["native"])
}

func TestAnalyzeUpload(t *testing.T) {
	s := newTestServer(t, nil)

	// C4, E4, G4
	rec := postAudio(t, s, "", "chord.wav", wavBytes(t, 4, 261.63, 329.63, 392.00))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "C major", resp.Key)
	assert.Contains(t, resp.Display, "C major")
	assert.GreaterOrEqual(t, resp.Confidence, 0.0)
	assert.LessOrEqual(t, resp.Confidence, 1.0)
	assert.Equal(t, resp.Confidence, keyfind.RoundConfidence(resp.Confidence))
	assert.InDelta(t, 4.0, resp.Duration, 0.01)
	assert.Zero(t, resp.Votes)
}

func TestAnalyzeUploadWithSegments(t *testing.T) {
	s := newTestServer(t, nil)

	rec := postAudio(t, s, "?segments=3", "chord.wav", wavBytes(t, 3, 261.63, 329.63, 392.00))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// shorter than the segment threshold, so analyzed once
	assert.Equal(t, "C major", resp.Key)
	assert.Equal(t, 1, resp.Votes)
	assert.Equal(t, 1, resp.Segments)
}

func TestAnalyzeUploadWindow(t *testing.T) {
	s := newTestServer(t, nil)

	rec := postAudio(t, s, "?offset=1&duration=1.5", "tone.wav", wavBytes(t, 4, 440))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 1.5, resp.Duration, 0.01)
}

func TestAnalyzeErrors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name     string
		query    string
		filename string
		content  []byte
		status   int
	}{
		{"too short", "", "short.wav", wavBytes(t, 0.5, 440), http.StatusUnprocessableEntity},
		{"window past end", "?offset=10", "tone.wav", wavBytes(t, 2, 440), http.StatusUnprocessableEntity},
		{"undecodable", "", "noise.bin", []byte("definitely not audio"), http.StatusBadRequest},
		{"bad offset", "?offset=abc", "tone.wav", wavBytes(t, 2, 440), http.StatusBadRequest},
		{"negative duration", "?duration=-1", "tone.wav", wavBytes(t, 2, 440), http.StatusBadRequest},
		{"bad segments", "?segments=x", "tone.wav", wavBytes(t, 2, 440), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postAudio(t, s, tt.query, tt.filename, tt.content)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAnalyzeMissingFile(t *testing.T) {
	s := newTestServer(t, nil)

	body, contentType := multipartBody(t, "other", "x.wav", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeBusyRequestCancelled(t *testing.T) {
	s := newTestServer(t, &Config{MaxConcurrent: 1})

	// occupy the only slot
	release, err := s.acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body, contentType := multipartBody(t, "file", "tone.wav", wavBytes(t, 2, 440))
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body).WithContext(ctx)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAcquireReleases(t *testing.T) {
	s := newTestServer(t, &Config{MaxConcurrent: 1})

	release, err := s.acquire(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.slots, 1)

	release()
	assert.Len(t, s.slots, 0)
}

func TestAnalyzeRateLimited(t *testing.T) {
	s := newTestServer(t, &Config{MaxConcurrent: 1, RequestsPerSecond: 0.001, Burst: 1})

	// the first request spends the only token even though it is rejected later
	first := postAudio(t, s, "", "noise.bin", []byte("not audio"))
	assert.Equal(t, http.StatusBadRequest, first.Code)

	second := postAudio(t, s, "", "noise.bin", []byte("not audio"))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
