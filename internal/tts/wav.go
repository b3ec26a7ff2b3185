package tts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	// silenceSampleRate is the rate used for generated placeholder audio.
	silenceSampleRate = 22050

	// minSpeechDuration is the floor for estimated speech length.
	minSpeechDuration = 1.5

	// secondsPerRune approximates Mandarin narration pace.
	secondsPerRune = 0.22
)

// estimateDuration approximates speech length from text alone.
func estimateDuration(text string) float64 {
	chars := len([]rune(text))
	if chars < 1 {
		chars = 1
	}
	duration := float64(chars) * secondsPerRune
	if duration < minSpeechDuration {
		return minSpeechDuration
	}
	return duration
}

// writeSilentWAV writes a mono 16-bit PCM WAV of zeroed samples.
func writeSilentWAV(path string, duration float64, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = silenceSampleRate
	}
	if duration < 0 {
		duration = 0
	}
	frameCount := int(duration * float64(sampleRate))
	dataSize := frameCount * 2 // mono, 2 bytes per sample

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating audio directory: %w", err)
	}

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	if err := os.WriteFile(path, buf, 0640); err != nil {
		return fmt.Errorf("writing wav file: %w", err)
	}
	return nil
}

// wavDuration derives the duration of a RIFF/WAVE file from its data chunk
// size and the byte rate declared in the fmt chunk.
func wavDuration(path string) (float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var header [12]byte
	if _, err := io.ReadFull(file, header[:]); err != nil {
		return 0, fmt.Errorf("reading wav header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, errors.New("not a wav file")
	}

	var byteRate uint32
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(file, chunk[:]); err != nil {
			return 0, fmt.Errorf("reading wav chunk: %w", err)
		}
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch string(chunk[0:4]) {
		case "fmt ":
			if size < 16 {
				return 0, errors.New("wav fmt chunk too short")
			}
			var fmtChunk [16]byte
			if _, err := io.ReadFull(file, fmtChunk[:]); err != nil {
				return 0, fmt.Errorf("reading wav fmt chunk: %w", err)
			}
			byteRate = binary.LittleEndian.Uint32(fmtChunk[8:12])
			if remainder := int64(size) - 16; remainder > 0 {
				if _, err := file.Seek(remainder+remainder%2, io.SeekCurrent); err != nil {
					return 0, err
				}
			}
		case "data":
			if byteRate == 0 {
				return 0, errors.New("wav data chunk before fmt chunk")
			}
			return float64(size) / float64(byteRate), nil
		default:
			// Chunks are word-aligned; odd sizes carry a pad byte.
			if _, err := file.Seek(int64(size)+int64(size%2), io.SeekCurrent); err != nil {
				return 0, err
			}
		}
	}
}
