package main

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChord(t *testing.T, dir string) string {
	t.Helper()

	const rate = 22050
	path := filepath.Join(dir, "chord.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	data := make([]int, 3*rate)
	for i := range data {
		v := 0.0
		for _, freq := range []float64{261.63, 329.63, 392.00} {
			v += 0.3 * math.Sin(2*math.Pi*freq*float64(i)/rate)
		}
		data[i] = int(v * 32767)
	}

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestAnalyzeCommandJSON(t *testing.T) {
	dir := t.TempDir()
	chord := writeChord(t, dir)
	missing := filepath.Join(dir, "missing.wav")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"analyze", "--json", "--no-tempo", chord, missing})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 files failed")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var ok, bad fileReport
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ok))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &bad))

	assert.Equal(t, "C major", ok.Key)
	assert.Empty(t, ok.Error)
	assert.Nil(t, ok.BPM)

	assert.NotEmpty(t, bad.Error)
	assert.Equal(t, "key not detected", bad.Display)
}

func TestAnalyzeCommandText(t *testing.T) {
	chord := writeChord(t, t.TempDir())

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"analyze", "--no-tempo", chord})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "C major")
	assert.Contains(t, out.String(), "n/a")
}

func TestRejectsUnknownLogLevel(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"analyze", "--log-level", "loud", "x.wav"})

	assert.Error(t, cmd.Execute())
}

func TestEnvOr(t *testing.T) {
	t.Setenv(envAddr, ":9999")
	assert.Equal(t, ":9999", envOr(envAddr, ":8080"))

	t.Setenv(envAddr, "")
	assert.Equal(t, ":8080", envOr(envAddr, ":8080"))
}
