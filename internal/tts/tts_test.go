package tts

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/ffmpeg"
	"github.com/storyloom/storyloom/pkg/httpclient"
)

func TestSplitDialogue(t *testing.T) {
	t.Run("narration only keeps narrator voice", func(t *testing.T) {
		pieces := SplitDialogue("他沿着山路走了很久。", "narrator", []string{"voice-a"})
		require.Len(t, pieces, 1)
		assert.Equal(t, "narrator", pieces[0].Voice)
		assert.Equal(t, "他沿着山路走了很久。", pieces[0].Text)
	})

	t.Run("dialogue rotates character voices", func(t *testing.T) {
		text := "他说：“你来了。”她答：“我来了。”"
		pieces := SplitDialogue(text, "narrator", []string{"voice-a", "voice-b"})
		require.Len(t, pieces, 4)
		assert.Equal(t, "narrator", pieces[0].Voice)
		assert.Equal(t, "voice-a", pieces[1].Voice)
		assert.Equal(t, "你来了。", pieces[1].Text)
		assert.Equal(t, "narrator", pieces[2].Voice)
		assert.Equal(t, "voice-b", pieces[3].Voice)
	})

	t.Run("unterminated quote runs to end", func(t *testing.T) {
		pieces := SplitDialogue("他喊道：“站住", "narrator", []string{"voice-a"})
		require.Len(t, pieces, 2)
		assert.Equal(t, "站住", pieces[1].Text)
		assert.Equal(t, "voice-a", pieces[1].Voice)
	})

	t.Run("no character voices falls back to narrator and merges", func(t *testing.T) {
		pieces := SplitDialogue("他说：“走吧。”然后离开了。", "narrator", nil)
		require.Len(t, pieces, 1)
		assert.Equal(t, "narrator", pieces[0].Voice)
	})
}

func TestEstimateDuration(t *testing.T) {
	assert.InDelta(t, 1.5, estimateDuration("短"), 0.001)
	assert.InDelta(t, 2.2, estimateDuration("一二三四五六七八九十"), 0.001)
}

func TestSilentWAVRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "silence.wav")
	require.NoError(t, writeSilentWAV(path, 2.0, 22050))

	duration, err := wavDuration(path)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, duration, 0.01)
}

func TestMP3Duration(t *testing.T) {
	// MPEG-1 Layer III, 128 kbit/s, 44100 Hz, no padding.
	header := uint32(0xFFFB9000)
	frameLen := 1152 / 8 * 128 * 1000 / 44100

	path := filepath.Join(t.TempDir(), "tone.mp3")
	var data []byte
	for i := 0; i < 10; i++ {
		frame := make([]byte, frameLen)
		binary.BigEndian.PutUint32(frame[0:4], header)
		data = append(data, frame...)
	}
	require.NoError(t, os.WriteFile(path, data, 0o640))

	duration, err := mp3Duration(path)
	require.NoError(t, err)
	assert.InDelta(t, 10*1152.0/44100.0, duration, 0.001)
}

func TestSynthesizeSegmentRemote(t *testing.T) {
	audio := []byte("not-really-audio-but-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(audio)
	}))
	defer server.Close()

	synth := NewSynthesizer(config.TTSConfig{
		RemoteURL:     server.URL,
		RemoteTimeout: 5 * time.Second,
		NarratorVoice: "narrator",
	}, httpclient.NewWithDefaults(), ffmpeg.NewBinaryDetector(), nil)

	out := filepath.Join(t.TempDir(), "segment_0001.mp3")
	result, err := synth.SynthesizeSegment(context.Background(), "他沿着山路走了很久。", nil, out)
	require.NoError(t, err)
	assert.False(t, result.Silent)
	assert.Greater(t, result.Duration, 0.0)

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, audio, written)
}

func TestSynthesizeSegmentRejectsNonAudioResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>login required</html>"))
	}))
	defer server.Close()

	synth := NewSynthesizer(config.TTSConfig{
		RemoteURL:     server.URL,
		NarratorVoice: "narrator",
		LocalAttempts: 1,
	}, httpclient.NewWithDefaults(), nil, nil)
	synth.WithLocalEngine(failingEngine{})

	out := filepath.Join(t.TempDir(), "segment_0001.mp3")
	result, err := synth.SynthesizeSegment(context.Background(), "一二三四五六七八九十", nil, out)
	require.NoError(t, err)
	assert.True(t, result.Silent)
	assert.InDelta(t, 2.2, result.Duration, 0.05)
}

func TestSynthesizeSegmentSilentFallback(t *testing.T) {
	synth := NewSynthesizer(config.TTSConfig{
		NarratorVoice: "narrator",
		LocalAttempts: 2,
		RetryBackoff:  time.Millisecond,
	}, nil, nil, nil)

	engine := &countingEngine{}
	synth.WithLocalEngine(engine)

	out := filepath.Join(t.TempDir(), "segment_0001.mp3")
	result, err := synth.SynthesizeSegment(context.Background(), "短句", nil, out)
	require.NoError(t, err)
	assert.True(t, result.Silent)
	assert.Equal(t, 2, engine.calls)
	assert.InDelta(t, 1.5, result.Duration, 0.05)

	duration, err := wavDuration(out)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, duration, 0.05)
}

func TestSynthesizeSegmentMultiVoiceConcatFallback(t *testing.T) {
	// Without a usable encoder the concat step fails and the whole segment
	// is re-voiced with the narrator voice through the local engine.
	synth := NewSynthesizer(config.TTSConfig{
		NarratorVoice: "narrator",
		LocalAttempts: 1,
	}, nil, ffmpeg.NewBinaryDetector().WithConfiguredPaths("/nonexistent/ffmpeg", ""), nil)

	engine := &wavEngine{}
	synth.WithLocalEngine(engine)

	out := filepath.Join(t.TempDir(), "segment_0001.mp3")
	result, err := synth.SynthesizeSegment(context.Background(), "他说：“你来了。”她笑了。", []string{"voice-a"}, out)
	require.NoError(t, err)
	assert.False(t, result.Silent)
	assert.FileExists(t, out)
	assert.Equal(t, "narrator", engine.lastVoice)
}

type failingEngine struct{}

func (failingEngine) Synthesize(context.Context, string, string, string) error {
	return fmt.Errorf("no engine installed")
}

type countingEngine struct{ calls int }

func (e *countingEngine) Synthesize(context.Context, string, string, string) error {
	e.calls++
	return fmt.Errorf("still broken")
}

type wavEngine struct{ lastVoice string }

func (e *wavEngine) Synthesize(_ context.Context, text, voice, outPath string) error {
	e.lastVoice = voice
	return writeSilentWAV(outPath, estimateDuration(text), 22050)
}
