package llm

import (
	"fmt"
	"strings"
)

// System prompts for the two strict-JSON conversation shapes.
const (
	StrictJSONSystemPrompt        = "You are a strict JSON generator."
	SceneReuseSelectorSystemPrompt = "You are a strict JSON selector for scene-image reuse. Output JSON only."
)

// DefaultImagePrompt is used when a segment produced no usable prompt at all.
const DefaultImagePrompt = "Generate one single image based on the current plot segment."

// segmentImageBundleRules are sent verbatim with every prompt-bundle request.
var segmentImageBundleRules = []string{
	"Keep facial identity consistent across scenes; hairstyle and outfit may change when required by the current segment.",
	"Character appearance is optional per frame: LLM may output pure scene/environment frame when segment focus is on place/atmosphere/system message.",
	"Reference image (if present) is for character look only, never for scene/background.",
	"Prefer 2D anime style, clean line art and cel shading; avoid photorealistic or 3D-render look.",
	"If multiple reference images are provided, this segment may involve multiple characters. Keep each identity consistent.",
	"Scene/background/action must be inferred from current segment text.",
	"If current segment omits explicit character name, use adjacent segment context to infer the implied acting/speaking character.",
	"When character_candidates are provided, return primary_index and related_indexes using those candidate indexes.",
	"For TTS assignment, use tts_sentence_units and return sentence_speakers by sentence_index only; never rewrite or copy sentence text.",
	"speaker_type must be narrator or character; when speaker_type=character, character_index must be a valid character_candidates index.",
	"When sentence lacks explicit speaker name, infer from adjacent context and speaking verbs, but still output index mapping only.",
	"Return is_scene_only=true when this frame should be pure environment/scene without visible character.",
	"If story_world_context is provided, keep era/architecture/costume/props/culture consistent with that world setting.",
	"Output one concise production-ready prompt in English.",
	"Also output strict scene metadata for cache-reuse matching.",
	"Action must be concrete visible action (e.g. holding knife, raising right hand, running).",
	"Location must be concrete place if present (e.g. classroom, corridor, street).",
	"Scene elements must be concrete visual nouns/background details.",
	"English onomatopoeia is allowed when visually appropriate.",
	"Environmental/prop text is allowed only when naturally required by the scene (e.g. signs, labels).",
	"Do not add speech bubbles, dialogue balloons, subtitle-like dialogue text, or character conversation captions.",
	"If any visible words/labels/signage/onomatopoeia are used in the image, they must use English letters only.",
	"No markdown, no explanation.",
}

// SceneReuseSelectorRules are sent with every cache-reuse selector request.
var SceneReuseSelectorRules = []string{
	"This decision is strict: if uncertain, return should_reuse=false.",
	"User experience first: avoid wrong reuse. Wrong reuse is worse than generating a new image.",
	"Only reuse at high match level.",
	"If target has reference_image_paths, selected candidate must overlap at least one same path.",
	"If target has reference_image_ids, selected candidate must overlap at least one same id.",
	"character_match must be true, unless both target and selected candidate are is_scene_only=true.",
	"action_match must be true, otherwise reject.",
	"If both sides contain location hints, location_match must be true.",
	"If scene elements differ substantially, reject.",
	"Do not select by writing style; only compare character, action and location.",
	"Return strict JSON only.",
}

func buildStoryWorldSummaryPrompt(text string) string {
	return "You summarize the global world setting for a novel-to-video pipeline. " +
		"Return strict JSON only in schema: " +
		`{"world_summary":""}. ` +
		"world_summary must be one concise English sentence (max 40 words) that captures era, cultural setting, architecture/props/costume tone, " +
		"and visual world constraints. Prefer broad stable setting, not per-scene details." +
		"\n\nNovel text:\n" +
		truncateRunes(text, 14000)
}

func buildSmartSegmentationPrompt(cleanText string) string {
	return "Split the following novel text into short-video segments. " +
		"Try to cut at scene transitions and keep semantic coherence. " +
		"Do not rewrite, summarize, omit, or reorder any content; preserve original wording exactly. " +
		`Return strict JSON only in this schema: {"segments":["Segment 1","Segment 2"]}.` + "\n\n" +
		"Text:\n" + truncateRunes(cleanText, 14000)
}

func buildCharacterIdentityGuard(name, anchors, personality string, hasReference bool) string {
	personalityClause := ""
	if personality != "" {
		personalityClause = fmt.Sprintf(" Character personality and vibe: %s.", personality)
	}
	referenceClause := "No reference image is available; enforce identity from appearance anchors only. "
	if hasReference {
		referenceClause = fmt.Sprintf(
			"Use the provided reference image primarily for facial identity matching of %s "+
				"(face shape, key facial features, expression style). "+
				"Do not copy composition or background from the reference image. ",
			name,
		)
	}
	return "Character consistency is mandatory across frames. " +
		"But if current segment is better represented as environment-only/scene-only, character does not need to appear in frame. " +
		referenceClause +
		"Never change core facial identity. Hairstyle and outfit may adapt to plot needs. " +
		fmt.Sprintf("Character appearance anchors: %s.", anchors) +
		personalityClause
}

func buildFallbackSegmentImagePrompt(guard, sceneText, storyWorldContext string) string {
	worldClause := ""
	if s := strings.TrimSpace(storyWorldContext); s != "" {
		worldClause = fmt.Sprintf("Global world setting consistency requirement: %s. ", s)
	}
	return guard + " " +
		worldClause +
		"Build one single image frame according to this current plot segment: " +
		sceneText + ". " +
		"It is allowed to output a pure scene/environment shot without any character when that better matches the segment. " +
		"Background and action must come from the current plot segment. " +
		"2D anime style, clean line art, cel shading, expressive eyes, cinematic illustration, detailed lighting, clean composition, non-photorealistic, no 3D render, no watermark. " +
		"English onomatopoeia is allowed when visually appropriate, and required environmental text/signage is allowed. " +
		"Do not add speech bubbles, dialogue balloons, subtitle-like dialogue text, or character conversation captions. " +
		"If adding any visible text or onomatopoeia, use English letters only."
}

func buildFinalSegmentImagePrompt(guard, sceneText, candidate, storyWorldContext string) string {
	worldClause := ""
	if s := strings.TrimSpace(storyWorldContext); s != "" {
		worldClause = fmt.Sprintf("Global world setting consistency requirement: %s. ", s)
	}
	return guard + " " +
		worldClause +
		fmt.Sprintf("Current plot segment: %s. ", sceneText) +
		"If character is not necessary for this segment, you may generate scene-only frame. " +
		"Scene/background/action must follow current plot segment. " +
		fmt.Sprintf("Additional style and composition details: %s. ", candidate) +
		"English onomatopoeia is allowed when visually appropriate, and required environmental text/signage is allowed. " +
		"Do not add speech bubbles, dialogue balloons, subtitle-like dialogue text, or character conversation captions. " +
		"If any visible text appears in frame (signs, SFX, labels), it must use English letters only."
}

func buildCharacterAnalysisPrompt(text, depth, allowedIDs, voiceLines, storyWorldContext string) string {
	detail := "Output concise fields"
	if depth == "detailed" {
		detail = "Output detailed fields"
	}
	worldClause := ""
	if s := strings.TrimSpace(storyWorldContext); s != "" {
		worldClause = fmt.Sprintf("Global story world context: %s. ", s)
	}
	return "You are a novel character analysis assistant. Extract major characters from the text and return JSON only. " +
		detail + ". " +
		worldClause +
		"Character setting must be consistent with the story world context: era, region/culture, social identity, clothing, props and tone. " +
		"Unless the text explicitly says otherwise, avoid cross-world mismatch (e.g. ancient Chinese setting with modern/western/Japanese role styling). " +
		"Also determine character identity flags: is_main_character and is_story_self. " +
		"is_story_self means this character corresponds to first-person narrator 'I/我' in the novel perspective. " +
		"At most one character can be is_main_character=true, and at most one can be is_story_self=true. " +
		"voice_id must be selected strictly from the allowed voice IDs below. " +
		"Do not invent any new voice name or ID. " +
		"If unsure, choose the closest one from the list. " +
		"JSON schema: " +
		`{"characters":[{"name":"","role":"","importance":1,` +
		`"is_main_character":false,"is_story_self":false,` +
		`"appearance":"","personality":"","voice_id":"","base_prompt":""}],` +
		`"confidence":0.0}` +
		"\n\nAllowed voice IDs: " +
		allowedIDs +
		"\nVoice catalog:" +
		"\n" + voiceLines +
		"\n\nText:\n" +
		truncateRunes(text, 14000)
}

func buildAliasPrompt(text string, count int) string {
	return "你是中文小说命名顾问。请基于文本生成小说‘别名’候选。" +
		"硬性规则：\n" +
		"1) 每个别名必须是4到8个汉字；\n" +
		"2) 不能包含数字、英文字母、标点符号、空格；\n" +
		"3) 禁止使用常见词语/俗语/成语/地名作为核心表达；\n" +
		"4) 风格要和原文题材、情绪、意象一致；\n" +
		fmt.Sprintf("5) 一次输出%d个，不要重复；\n", count) +
		"6) 禁止使用生僻字，尽量使用常用汉字。\n" +
		`仅输出严格JSON：{"aliases":["别名1","别名2"]}` + "\n\n" +
		"文本：\n" + truncateRunes(text, 12000)
}

// BuildImageRetryPrompt wraps a prompt for a second generation attempt after
// the provider answered without an image.
func BuildImageRetryPrompt(prompt string) string {
	return "Create one single image only. Do not explain. " +
		"English onomatopoeia is allowed when visually appropriate, and required environmental text/signage is allowed. " +
		"Do not add speech bubbles, dialogue balloons, subtitle-like dialogue text, or character conversation captions. " +
		"If any visible text appears in frame, use English letters only. " +
		"2D anime style, clean line art, cel shading, expressive eyes, non-photorealistic, no 3D render. Illustration based on this description: " + prompt
}
