package ffmpeg

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

func TestBinaryDetector_Detect(t *testing.T) {
	skipIfNoFFmpeg(t)

	ctx := context.Background()
	detector := NewBinaryDetector()

	info, err := detector.Detect(ctx)
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.NotEmpty(t, info.FFmpegPath)
	assert.NotEmpty(t, info.Version)
	assert.Greater(t, info.MajorVersion, 0)
}

func TestBinaryDetector_Caching(t *testing.T) {
	skipIfNoFFmpeg(t)

	ctx := context.Background()
	detector := NewBinaryDetector().WithCacheTTL(1 * time.Hour)

	info1, err := detector.Detect(ctx)
	require.NoError(t, err)

	info2, err := detector.Detect(ctx)
	require.NoError(t, err)

	assert.Same(t, info1, info2)

	detector.Clear()
	assert.Nil(t, detector.info)
}

func TestBinaryDetector_ConfiguredPathNotExecutable(t *testing.T) {
	detector := NewBinaryDetector().WithConfiguredPaths("/nonexistent/ffmpeg", "")

	_, err := detector.Detect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not executable")
}

func TestParseVersionOutput(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		wantFull  string
		wantMajor int
		wantMinor int
		wantErr   bool
	}{
		{
			name: "release build",
			output: "ffmpeg version 6.1.1 Copyright (c) 2000-2023 the FFmpeg developers\n" +
				"built with gcc 13\n" +
				"configuration: --enable-gpl --enable-libx264 --enable-libfreetype\n",
			wantFull:  "6.1.1",
			wantMajor: 6,
			wantMinor: 1,
		},
		{
			name:      "git build with n prefix",
			output:    "ffmpeg version n7.0-2-gabcdef Copyright (c) 2000-2024 the FFmpeg developers\n",
			wantFull:  "n7.0-2-gabcdef",
			wantMajor: 7,
			wantMinor: 0,
		},
		{
			name:    "garbage output",
			output:  "not ffmpeg at all\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := parseVersionOutput([]byte(tt.output))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFull, info.Full)
			assert.Equal(t, tt.wantMajor, info.Major)
			assert.Equal(t, tt.wantMinor, info.Minor)
		})
	}

	t.Run("configuration line", func(t *testing.T) {
		info, err := parseVersionOutput([]byte(
			"ffmpeg version 6.0 Copyright\nconfiguration: --enable-libx264\n"))
		require.NoError(t, err)
		assert.Equal(t, "--enable-libx264", info.Configuration)
	})
}

func TestParseEncoderList(t *testing.T) {
	output := `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              H.264 / AVC / MPEG-4 AVC
 V....D libx265              H.265 / HEVC
 A....D aac                  AAC (Advanced Audio Coding)
 A....D pcm_s16le            PCM signed 16-bit little-endian
 ...... something_invalid
`

	encoders := parseEncoderList([]byte(output))
	assert.Equal(t, []string{"libx264", "libx265", "aac", "pcm_s16le"}, encoders)
}

func TestBinaryInfo_HasEncoder(t *testing.T) {
	info := &BinaryInfo{
		Encoders: []string{"libx264", "aac", "pcm_s16le"},
	}

	assert.True(t, info.HasEncoder("libx264"))
	assert.True(t, info.HasEncoder("aac"))
	assert.False(t, info.HasEncoder("h264_nvenc"))
}

func TestBinaryInfo_SupportsMinVersion(t *testing.T) {
	info := &BinaryInfo{MajorVersion: 6, MinorVersion: 1}

	assert.True(t, info.SupportsMinVersion(5, 0))
	assert.True(t, info.SupportsMinVersion(6, 0))
	assert.True(t, info.SupportsMinVersion(6, 1))
	assert.False(t, info.SupportsMinVersion(6, 2))
	assert.False(t, info.SupportsMinVersion(7, 0))
}

func TestCommandError(t *testing.T) {
	t.Run("with stderr", func(t *testing.T) {
		err := &CommandError{Name: "ffmpeg", ExitCode: 1, Stderr: "No such file or directory"}
		assert.Equal(t, "ffmpeg exited with code 1: No such file or directory", err.Error())
	})

	t.Run("without stderr", func(t *testing.T) {
		err := &CommandError{Name: "ffprobe", ExitCode: 2}
		assert.Equal(t, "ffprobe exited with code 2", err.Error())
	})
}

func TestStderrPrefix(t *testing.T) {
	t.Run("trims whitespace", func(t *testing.T) {
		assert.Equal(t, "boom", stderrPrefix([]byte("  boom \n")))
	})

	t.Run("bounds long output", func(t *testing.T) {
		long := strings.Repeat("x", 1000)
		prefix := stderrPrefix([]byte(long))
		assert.Len(t, prefix, stderrPrefixLimit)
	})

	t.Run("counts runes not bytes", func(t *testing.T) {
		long := strings.Repeat("错", 500)
		prefix := stderrPrefix([]byte(long))
		assert.Equal(t, stderrPrefixLimit, len([]rune(prefix)))
	})
}

func TestRun_CapturesStderr(t *testing.T) {
	shPath, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not installed")
	}

	err = Run(context.Background(), shPath, "-c", "echo oh no >&2; exit 3")
	require.Error(t, err)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "sh", cmdErr.Name)
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "oh no", cmdErr.Stderr)
}

func TestOutput_ReturnsStdout(t *testing.T) {
	shPath, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not installed")
	}

	out, err := Output(context.Background(), shPath, "-c", "printf hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

const probeFixture = `{
	"streams": [
		{
			"index": 0,
			"codec_name": "h264",
			"codec_type": "video",
			"width": 1080,
			"height": 1920,
			"pix_fmt": "yuv420p",
			"r_frame_rate": "30/1",
			"avg_frame_rate": "30000/1001",
			"duration": "4.966667"
		},
		{
			"index": 1,
			"codec_name": "aac",
			"codec_type": "audio",
			"sample_rate": "44100",
			"channels": 2,
			"channel_layout": "stereo",
			"duration": "5.015510"
		}
	],
	"format": {
		"filename": "clip_0001.mp4",
		"nb_streams": 2,
		"format_name": "mov,mp4,m4a,3gp,3g2,mj2",
		"duration": "5.016000",
		"size": "812345",
		"bit_rate": "1295032"
	}
}`

func TestProbeResult_Parsing(t *testing.T) {
	var result ProbeResult
	require.NoError(t, json.Unmarshal([]byte(probeFixture), &result))

	assert.InDelta(t, 5.016, result.Duration(), 0.0001)

	video := result.VideoStream()
	require.NotNil(t, video)
	assert.Equal(t, "h264", video.CodecName)
	assert.Equal(t, 1080, video.Width)
	assert.Equal(t, 1920, video.Height)
	assert.InDelta(t, 29.97, video.Framerate(), 0.01)

	audio := result.AudioStream()
	require.NotNil(t, audio)
	assert.Equal(t, "aac", audio.CodecName)
	assert.Equal(t, 2, audio.Channels)
}

func TestProbeResult_DurationFallsBackToStreams(t *testing.T) {
	result := ProbeResult{
		Streams: []ProbeStream{
			{CodecType: "video", Duration: "3.2"},
			{CodecType: "audio", Duration: "3.5"},
		},
	}
	assert.InDelta(t, 3.5, result.Duration(), 0.0001)

	empty := ProbeResult{}
	assert.Zero(t, empty.Duration())
}

func TestParseFramerate(t *testing.T) {
	assert.InDelta(t, 25.0, parseFramerate("25/1"), 0.0001)
	assert.InDelta(t, 29.97, parseFramerate("30000/1001"), 0.01)
	assert.InDelta(t, 24.0, parseFramerate("24"), 0.0001)
	assert.Zero(t, parseFramerate("30/0"))
	assert.Zero(t, parseFramerate("garbage"))
}

func TestProber_NotAvailable(t *testing.T) {
	prober := NewProber("")
	assert.False(t, prober.Available())

	_, err := prober.Probe(context.Background(), "whatever.mp4")
	require.Error(t, err)
}
