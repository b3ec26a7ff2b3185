package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVideoRequest_ApplyDefaults(t *testing.T) {
	req := &GenerateVideoRequest{Text: "很久以前，山里住着一位老猎人。"}
	req.ApplyDefaults()

	assert.Equal(t, SegmentMethodSmart, req.SegmentMethod)
	assert.Equal(t, DefaultSegmentsPerImage, req.SegmentsPerImage)
	assert.Equal(t, DefaultResolution, req.Resolution)
	assert.Equal(t, SubtitleStyleHighlight, req.SubtitleStyle)
	assert.Equal(t, CameraMotionVertical, req.CameraMotion)
	assert.Equal(t, DefaultFPS, req.FPS)
	assert.Equal(t, RenderModeBalanced, req.RenderMode)
}

func TestGenerateVideoRequest_ApplyDefaults_KeepsExplicit(t *testing.T) {
	req := &GenerateVideoRequest{
		Text:             "text",
		SegmentMethod:    SegmentMethodFixed,
		SegmentsPerImage: 2,
		Resolution:       "720x1280",
		SubtitleStyle:    SubtitleStyleDanmaku,
		CameraMotion:     CameraMotionAuto,
		FPS:              24,
		RenderMode:       RenderModeQuality,
	}
	req.ApplyDefaults()

	assert.Equal(t, SegmentMethodFixed, req.SegmentMethod)
	assert.Equal(t, 2, req.SegmentsPerImage)
	assert.Equal(t, "720x1280", req.Resolution)
	assert.Equal(t, SubtitleStyleDanmaku, req.SubtitleStyle)
	assert.Equal(t, CameraMotionAuto, req.CameraMotion)
	assert.Equal(t, 24, req.FPS)
	assert.Equal(t, RenderModeQuality, req.RenderMode)
}

func TestGenerateVideoRequest_ApplyDefaults_Characters(t *testing.T) {
	req := &GenerateVideoRequest{
		Text: "text",
		Characters: []Character{
			{Name: "林小雨"},
			{Name: "旁白者", Importance: 99},
		},
	}
	req.ApplyDefaults()

	assert.Equal(t, DefaultCharacterRole, req.Characters[0].Role)
	assert.Equal(t, DefaultCharacterImportance, req.Characters[0].Importance)
	assert.Equal(t, DefaultCharacterStyle, req.Characters[0].SuggestedStyle)
	assert.Equal(t, 10, req.Characters[1].Importance, "importance clamps to 10")
}

func TestGenerateVideoRequest_Validate(t *testing.T) {
	valid := func() *GenerateVideoRequest {
		req := &GenerateVideoRequest{Text: "一段用于测试的故事文本。"}
		req.ApplyDefaults()
		return req
	}

	t.Run("valid request", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})

	tests := []struct {
		name    string
		mutate  func(*GenerateVideoRequest)
		wantErr error
	}{
		{"empty text", func(r *GenerateVideoRequest) { r.Text = "   " }, ErrTextRequired},
		{"bad method", func(r *GenerateVideoRequest) { r.SegmentMethod = "chunked" }, ErrInvalidSegmentMethod},
		{"negative max segments", func(r *GenerateVideoRequest) { r.MaxSegments = -1 }, ErrMaxSegmentsOutOfRange},
		{"max segments too large", func(r *GenerateVideoRequest) { r.MaxSegments = 10001 }, ErrMaxSegmentsOutOfRange},
		{"segments per image zero", func(r *GenerateVideoRequest) { r.SegmentsPerImage = 0 }, ErrSegmentsPerImageOutOfRange},
		{"segments per image too large", func(r *GenerateVideoRequest) { r.SegmentsPerImage = 51 }, ErrSegmentsPerImageOutOfRange},
		{"bad resolution", func(r *GenerateVideoRequest) { r.Resolution = "1080p" }, ErrInvalidResolution},
		{"bad subtitle style", func(r *GenerateVideoRequest) { r.SubtitleStyle = "neon" }, ErrInvalidSubtitleStyle},
		{"bad camera motion", func(r *GenerateVideoRequest) { r.CameraMotion = "diagonal" }, ErrInvalidCameraMotion},
		{"bad render mode", func(r *GenerateVideoRequest) { r.RenderMode = "turbo" }, ErrInvalidRenderMode},
		{"unnamed character", func(r *GenerateVideoRequest) { r.Characters = []Character{{Appearance: "tall"}} }, ErrCharacterNameRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			assert.ErrorIs(t, req.Validate(), tt.wantErr)
		})
	}
}

func TestGenerateVideoRequest_Toggles(t *testing.T) {
	req := &GenerateVideoRequest{}
	assert.True(t, req.BGMEnabled(), "nil enables BGM")
	assert.True(t, req.WatermarkEnabled(), "nil enables watermark")
	assert.True(t, req.SceneReuseEnabled(), "nil enables scene reuse")

	req.EnableBGM = BoolPtr(false)
	req.EnableWatermark = BoolPtr(false)
	req.SceneReuse = BoolPtr(false)
	assert.False(t, req.BGMEnabled())
	assert.False(t, req.WatermarkEnabled())
	assert.False(t, req.SceneReuseEnabled())
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		width   int
		height  int
		wantErr bool
	}{
		{"portrait default", "1080x1920", 1080, 1920, false},
		{"landscape", "1920x1080", 1920, 1080, false},
		{"uppercase x", "720X1280", 720, 1280, false},
		{"surrounding spaces", " 540x960 ", 540, 960, false},
		{"missing separator", "1080", 0, 0, true},
		{"non-numeric", "widexhigh", 0, 0, true},
		{"zero dimension", "0x1920", 0, 0, true},
		{"negative dimension", "-1080x1920", 0, 0, true},
		{"empty", "", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, err := ParseResolution(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidResolution)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.width, w)
			assert.Equal(t, tt.height, h)
		})
	}
}

func TestJobPayload_TableName(t *testing.T) {
	assert.Equal(t, "job_payloads", JobPayload{}.TableName())
}

func TestJobPayload_RequestRoundtrip(t *testing.T) {
	req := &GenerateVideoRequest{
		Text:          "少年背起行囊，走向山外的世界。",
		SegmentMethod: SegmentMethodSentence,
		Characters: []Character{
			{Name: "少年", SuggestedVoice: "zh-CN-YunxiNeural", IsMainCharacter: true},
		},
		PrecomputedSegments: []string{"少年背起行囊，", "走向山外的世界。"},
		RequestSignature:    "deadbeef",
		EnableBGM:           BoolPtr(false),
	}
	req.ApplyDefaults()

	payload := &JobPayload{JobID: NewJobID(), BaseURL: "http://localhost:8080"}
	require.NoError(t, payload.SetRequest(req))
	assert.NotEmpty(t, payload.PayloadJSON)

	restored, err := payload.Request()
	require.NoError(t, err)
	assert.Equal(t, req.Text, restored.Text)
	assert.Equal(t, req.Characters, restored.Characters)
	assert.Equal(t, req.PrecomputedSegments, restored.PrecomputedSegments)
	assert.Equal(t, req.RequestSignature, restored.RequestSignature)
	assert.False(t, restored.BGMEnabled())
}

func TestJobPayload_RequestCorrupt(t *testing.T) {
	payload := &JobPayload{JobID: NewJobID(), PayloadJSON: "{broken"}
	_, err := payload.Request()
	assert.Error(t, err)
}

func TestJobCancelFlag_TableName(t *testing.T) {
	assert.Equal(t, "job_cancel_flags", JobCancelFlag{}.TableName())
}
