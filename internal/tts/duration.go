package tts

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/storyloom/storyloom/internal/ffmpeg"
)

// AudioDuration returns the length of an audio file in seconds. It tries
// cheap pure-Go parsing first (WAV header, MP3 frame walk), then ffprobe,
// and finally falls back to the text-pace estimate so callers always get a
// usable value.
func (s *Synthesizer) AudioDuration(ctx context.Context, path, text string) float64 {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		if d, err := wavDuration(path); err == nil && d > 0 {
			return d
		}
	case ".mp3":
		if d, err := mp3Duration(path); err == nil && d > 0 {
			return d
		}
	default:
		// Placeholder audio is WAV regardless of extension.
		if d, err := wavDuration(path); err == nil && d > 0 {
			return d
		}
	}

	if s.bin != nil {
		if info, err := s.bin.Detect(ctx); err == nil && info.FFprobePath != "" {
			prober := ffmpeg.NewProber(info.FFprobePath)
			if d, err := prober.Duration(ctx, path); err == nil && d > 0 {
				return d
			}
		}
	}

	return estimateDuration(text)
}

// mpeg1Layer3Bitrates maps the MPEG-1 Layer III bitrate index to kbit/s.
var mpeg1Layer3Bitrates = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}

// mpeg2Layer3Bitrates maps the MPEG-2/2.5 Layer III bitrate index to kbit/s.
var mpeg2Layer3Bitrates = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}

// mpegSampleRates maps the sample-rate index per MPEG version.
var mpegSampleRates = map[int][4]int{
	3: {44100, 48000, 32000, 0}, // MPEG-1
	2: {22050, 24000, 16000, 0}, // MPEG-2
	0: {11025, 12000, 8000, 0},  // MPEG-2.5
}

// mp3Duration walks MPEG audio frame headers and sums the per-frame sample
// counts. Variable bitrate streams are handled naturally since every frame
// declares its own bitrate.
func mp3Duration(path string) (float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return 0, err
	}

	offset := skipID3(data)
	var seconds float64
	frames := 0

	for offset+4 <= len(data) {
		header := binary.BigEndian.Uint32(data[offset : offset+4])
		frameLen, frameSeconds, ok := parseMP3Frame(header)
		if !ok || offset+frameLen > len(data) {
			offset++
			continue
		}
		seconds += frameSeconds
		frames++
		offset += frameLen
	}

	if frames == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	return seconds, nil
}

// skipID3 returns the offset past an ID3v2 tag, if present.
func skipID3(data []byte) int {
	if len(data) < 10 || string(data[0:3]) != "ID3" {
		return 0
	}
	// Syncsafe 28-bit size.
	size := int(data[6]&0x7f)<<21 | int(data[7]&0x7f)<<14 | int(data[8]&0x7f)<<7 | int(data[9]&0x7f)
	return 10 + size
}

// parseMP3Frame decodes a Layer III frame header into its byte length and
// playback duration.
func parseMP3Frame(header uint32) (frameLen int, seconds float64, ok bool) {
	if header&0xFFE00000 != 0xFFE00000 {
		return 0, 0, false
	}
	version := int(header >> 19 & 0x3)
	layer := int(header >> 17 & 0x3)
	if version == 1 || layer != 1 { // reserved version, or not Layer III
		return 0, 0, false
	}

	bitrateIndex := int(header >> 12 & 0xF)
	sampleIndex := int(header >> 10 & 0x3)
	padding := int(header >> 9 & 0x1)

	rates, found := mpegSampleRates[version]
	if !found {
		return 0, 0, false
	}
	sampleRate := rates[sampleIndex]
	if sampleRate == 0 {
		return 0, 0, false
	}

	var bitrate, samplesPerFrame int
	if version == 3 {
		bitrate = mpeg1Layer3Bitrates[bitrateIndex]
		samplesPerFrame = 1152
	} else {
		bitrate = mpeg2Layer3Bitrates[bitrateIndex]
		samplesPerFrame = 576
	}
	if bitrate == 0 {
		return 0, 0, false
	}

	frameLen = samplesPerFrame/8*bitrate*1000/sampleRate + padding
	if frameLen <= 4 {
		return 0, 0, false
	}
	return frameLen, float64(samplesPerFrame) / float64(sampleRate), true
}
