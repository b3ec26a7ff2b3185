// Package tts turns segment text into narration audio. Synthesis walks a
// fallback chain per piece: a remote HTTP service, a local engine, and
// finally a silent placeholder sized to the estimated speech length, so a
// job never fails because speech could not be produced.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/ffmpeg"
	"github.com/storyloom/storyloom/internal/observability"
	"github.com/storyloom/storyloom/pkg/httpclient"
)

// LocalEngine synthesizes speech without the remote service. Implementations
// must write a playable audio file to outPath.
type LocalEngine interface {
	Synthesize(ctx context.Context, text, voice, outPath string) error
}

// Synthesizer produces per-segment narration audio.
type Synthesizer struct {
	cfg    config.TTSConfig
	http   *httpclient.Client
	bin    *ffmpeg.BinaryDetector
	local  LocalEngine
	logger *slog.Logger
}

// Result describes one synthesized segment.
type Result struct {
	Path string
	// Duration is the audio length in seconds.
	Duration float64
	// Silent is true when every piece fell through to the placeholder.
	Silent bool
}

// NewSynthesizer creates a synthesizer from configuration.
func NewSynthesizer(cfg config.TTSConfig, client *httpclient.Client, bin *ffmpeg.BinaryDetector, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synthesizer{
		cfg:    cfg,
		http:   client,
		bin:    bin,
		logger: observability.WithComponent(logger, "tts"),
	}
	s.local = &placeholderEngine{bin: bin}
	return s
}

// WithLocalEngine overrides the local synthesis fallback.
func (s *Synthesizer) WithLocalEngine(engine LocalEngine) *Synthesizer {
	s.local = engine
	return s
}

// SynthesizeSegment renders one segment of text to outPath. Dialogue inside
// paired quotes is voiced by the assigned character voices; narration keeps
// the narrator voice. The returned duration is probed from the produced file.
//
// Synthesis failures degrade rather than propagate: pieces that cannot be
// voiced become silence, and a failed multi-piece concat falls back to a
// single whole-segment synthesis with the narrator voice.
func (s *Synthesizer) SynthesizeSegment(ctx context.Context, text string, characterVoices []string, outPath string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty segment text")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0750); err != nil {
		return nil, fmt.Errorf("creating audio directory: %w", err)
	}

	pieces := SplitDialogue(text, s.cfg.NarratorVoice, characterVoices)
	if len(pieces) == 0 {
		pieces = []Piece{{Text: text, Voice: s.cfg.NarratorVoice}}
	}

	if len(pieces) == 1 {
		silent := s.synthesizePiece(ctx, pieces[0].Text, pieces[0].Voice, outPath)
		return s.finish(ctx, outPath, pieces[0].Text, silent)
	}

	result, err := s.synthesizeMulti(ctx, pieces, outPath)
	if err == nil {
		return result, nil
	}
	s.logger.Warn("multi-voice synthesis failed, retrying whole segment with narrator voice",
		"pieces", len(pieces), "error", err)

	silent := s.synthesizePiece(ctx, text, s.cfg.NarratorVoice, outPath)
	return s.finish(ctx, outPath, text, silent)
}

// synthesizeMulti voices each piece separately and joins them with the
// encoder's concat demuxer using stream copy.
func (s *Synthesizer) synthesizeMulti(ctx context.Context, pieces []Piece, outPath string) (*Result, error) {
	workDir, err := os.MkdirTemp(filepath.Dir(outPath), "tts_pieces_")
	if err != nil {
		return nil, fmt.Errorf("creating piece directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	ext := filepath.Ext(outPath)
	if ext == "" {
		ext = ".mp3"
	}

	allSilent := true
	piecePaths := make([]string, 0, len(pieces))
	for i, piece := range pieces {
		piecePath := filepath.Join(workDir, fmt.Sprintf("piece_%03d%s", i, ext))
		silent := s.synthesizePiece(ctx, piece.Text, piece.Voice, piecePath)
		if !silent {
			allSilent = false
		}
		piecePaths = append(piecePaths, piecePath)
	}
	if allSilent {
		// Nothing was voiced; one placeholder for the whole text beats
		// stitching placeholders together.
		return nil, fmt.Errorf("no piece produced speech")
	}

	info, err := s.bin.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("locating encoder for concat: %w", err)
	}
	listPath := filepath.Join(workDir, "concat.txt")
	if err := writeConcatList(listPath, piecePaths); err != nil {
		return nil, err
	}
	if err := ffmpeg.Run(ctx, info.FFmpegPath,
		"-y", "-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outPath,
	); err != nil {
		return nil, fmt.Errorf("joining voice pieces: %w", err)
	}

	var combined strings.Builder
	for _, piece := range pieces {
		combined.WriteString(piece.Text)
	}
	return s.finish(ctx, outPath, combined.String(), false)
}

// synthesizePiece walks the remote/local/silent chain for a single piece and
// reports whether the result is placeholder silence.
func (s *Synthesizer) synthesizePiece(ctx context.Context, text, voice, outPath string) (silent bool) {
	if err := s.synthesizeRemote(ctx, text, voice, outPath); err == nil {
		return false
	} else if s.cfg.RemoteURL != "" {
		s.logger.Debug("remote synthesis failed", "voice", voice, "error", err)
	}

	attempts := s.cfg.LocalAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.synthesizeLocal(ctx, text, voice, outPath)
		if err == nil {
			return false
		}
		s.logger.Debug("local synthesis failed", "attempt", attempt, "voice", voice, "error", err)
		if attempt < attempts {
			backoff := s.cfg.RetryBackoff
			if backoff <= 0 {
				backoff = 350 * time.Millisecond
			}
			select {
			case <-ctx.Done():
				attempt = attempts
			case <-time.After(backoff):
			}
		}
	}

	duration := estimateDuration(text)
	if err := writeSilentWAV(outPath, duration, silenceSampleRate); err != nil {
		s.logger.Error("writing silent placeholder failed", "error", err)
	}
	return true
}

// remoteRequest is the JSON body the remote speech service expects.
type remoteRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// synthesizeRemote calls the configured HTTP speech service.
func (s *Synthesizer) synthesizeRemote(ctx context.Context, text, voice, outPath string) error {
	if s.cfg.RemoteURL == "" || s.http == nil {
		return fmt.Errorf("remote synthesis not configured")
	}

	timeout := s.cfg.RemoteTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(remoteRequest{Text: text, Voice: voice})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.RemoteURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote synthesis status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "audio/") && !strings.HasPrefix(contentType, "application/octet-stream") {
		return fmt.Errorf("remote synthesis returned %q, not audio", contentType)
	}

	file, err := os.Create(outPath)
	if err != nil {
		return err
	}
	written, copyErr := file.ReadFrom(resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		os.Remove(outPath)
		return fmt.Errorf("reading remote audio: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(outPath)
		return closeErr
	}
	if written == 0 {
		os.Remove(outPath)
		return fmt.Errorf("remote synthesis returned no audio data")
	}
	return nil
}

// synthesizeLocal runs the local engine with the configured per-attempt timeout.
func (s *Synthesizer) synthesizeLocal(ctx context.Context, text, voice, outPath string) error {
	if s.local == nil {
		return fmt.Errorf("local synthesis not configured")
	}
	timeout := s.cfg.LocalTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.local.Synthesize(ctx, text, voice, outPath)
}

// finish probes the produced file and assembles the result.
func (s *Synthesizer) finish(ctx context.Context, outPath, text string, silent bool) (*Result, error) {
	duration := s.AudioDuration(ctx, outPath, text)
	return &Result{Path: outPath, Duration: duration, Silent: silent}, nil
}

// writeConcatList writes an ffmpeg concat demuxer file list.
func writeConcatList(path string, files []string) error {
	var buf bytes.Buffer
	for _, f := range files {
		// Single quotes inside paths are escaped per concat demuxer rules.
		fmt.Fprintf(&buf, "file '%s'\n", strings.ReplaceAll(f, "'", `'\''`))
	}
	if err := os.WriteFile(path, buf.Bytes(), 0640); err != nil {
		return fmt.Errorf("writing concat list: %w", err)
	}
	return nil
}

// placeholderEngine renders a quiet shaped tone sized to the estimated speech
// length. It stands in where no real local speech engine is installed so the
// clip timeline still matches the text pace.
type placeholderEngine struct {
	bin *ffmpeg.BinaryDetector
}

func (e *placeholderEngine) Synthesize(ctx context.Context, text, _ string, outPath string) error {
	if e.bin == nil {
		return fmt.Errorf("no encoder available")
	}
	info, err := e.bin.Detect(ctx)
	if err != nil {
		return err
	}
	duration := estimateDuration(text)
	return ffmpeg.Run(ctx, info.FFmpegPath,
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("sine=frequency=220:sample_rate=%d", silenceSampleRate),
		"-t", fmt.Sprintf("%.3f", duration),
		"-af", fmt.Sprintf("volume=0.02,afade=t=in:d=0.1,afade=t=out:st=%.3f:d=0.2", max(duration-0.2, 0)),
		"-ac", "1",
		outPath,
	)
}
