package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"listing-inspector/internal/model"
	"listing-inspector/internal/utils"
)

const aiImagePrompt = `You are an AI image forensic expert. Analyze this image and provide a complete assessment.

PART 1: SYNTHID WATERMARK DETECTION
SynthID is Google's invisible watermarking system for AI-generated images.
- Does this image contain a SynthID watermark?
- If yes, where is it located?

PART 2: GENERAL AI GENERATION SIGNS
Check for these common AI artifacts:
1. HANDS AND FINGERS: extra or missing fingers, twisted hands, fingers merging together
2. FACES AND EYES: glassy eyes, asymmetrical features, odd teeth, waxy skin
3. TEXT AND DETAILS: garbled text, almost-readable logos, patterns that repeat where they should not, objects blending into each other
4. LIGHTING AND SHADOWS: shadows that do not match the light source, unnatural lighting, impossible reflections
5. OVERALL LOOK: too smooth or perfect, dream-like quality, oversaturated colors

Return your analysis in this EXACT JSON format:
{
    "has_synthid": true or false,
    "synthid_confidence": 0-100,
    "synthid_location": "corners/distributed/none",
    "is_ai_generated": true or false,
    "confidence": 0-100,
    "indicators": ["list", "of", "specific", "issues", "found"],
    "explanation": "detailed explanation of your findings"
}

Be thorough but honest. Only mark as AI if you see clear indicators.`

// aiImageReply is the model's JSON; booleans are sometimes quoted
type aiImageReply struct {
	HasSynthID        interface{}   `json:"has_synthid"`
	SynthIDConfidence model.FlexInt `json:"synthid_confidence"`
	SynthIDLocation   string        `json:"synthid_location"`
	IsAIGenerated     interface{}   `json:"is_ai_generated"`
	Confidence        model.FlexInt `json:"confidence"`
	Indicators        []interface{} `json:"indicators"`
	Explanation       string        `json:"explanation"`
}

// AIImageDetector asks a vision model whether a listing photo was AI-generated
type AIImageDetector struct {
	client  AIClient
	fetcher *ImageFetcher
	model   string
}

// NewAIImageDetector creates a detector. With a nil fetcher the image URL is
// passed to the model as-is.
func NewAIImageDetector(client AIClient, fetcher *ImageFetcher, model string) *AIImageDetector {
	return &AIImageDetector{client: client, fetcher: fetcher, model: model}
}

// Available reports whether the vision model can be reached
func (d *AIImageDetector) Available() bool {
	return d != nil && d.client != nil && d.client.IsEnabled()
}

func (d *AIImageDetector) buildRequest(ctx context.Context, imageURL string) (ChatCompletionRequest, error) {
	if !d.Available() {
		return ChatCompletionRequest{}, fmt.Errorf("AI image detector is not configured")
	}
	if !model.IsFetchableImageURL(imageURL) {
		return ChatCompletionRequest{}, fmt.Errorf("invalid image URL: %q", imageURL)
	}

	log.Printf("🔍 Analyzing image: %s", utils.Truncate(imageURL, 50))

	payload := imageURL
	if d.fetcher != nil {
		dataURL, err := d.fetcher.FetchDataURL(ctx, imageURL)
		if err != nil {
			return ChatCompletionRequest{}, err
		}
		payload = dataURL
	}

	return ChatCompletionRequest{
		Model:    d.model,
		Messages: []ChatMessage{VisionMessage(aiImagePrompt, payload)},
	}, nil
}

// Detect analyzes one image
func (d *AIImageDetector) Detect(ctx context.Context, imageURL string) (*model.AIImageVerdict, error) {
	req, err := d.buildRequest(ctx, imageURL)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.ChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision request failed: %w", err)
	}
	return d.finish(resp.FirstContent(), imageURL)
}

// DetectStream analyzes one image, forwarding reasoning text to onThinking
func (d *AIImageDetector) DetectStream(ctx context.Context, imageURL string, onThinking func(string)) (*model.AIImageVerdict, error) {
	req, err := d.buildRequest(ctx, imageURL)
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	err = d.client.ChatCompletionStream(ctx, req, func(chunk *StreamChunk) error {
		if chunk.ThinkingContent != "" && onThinking != nil {
			onThinking(chunk.ThinkingContent)
		}
		content.WriteString(chunk.Content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vision stream failed: %w", err)
	}
	return d.finish(content.String(), imageURL)
}

func (d *AIImageDetector) finish(content, imageURL string) (*model.AIImageVerdict, error) {
	verdict, err := parseAIImageReply(content)
	if err != nil {
		return nil, err
	}
	verdict.ImageURL = imageURL
	verdict.Model = d.model

	if verdict.Detected {
		log.Printf("✅ AI DETECTED! Confidence: %d%%", verdict.Confidence)
		if verdict.HasSynthID {
			log.Printf("   🔖 SynthID watermark present")
		}
	} else {
		log.Printf("❌ No AI detected")
	}
	return verdict, nil
}

// parseAIImageReply reads the model's JSON verdict. A reply with no JSON at all
// falls back to a keyword check at 50% confidence.
func parseAIImageReply(content string) (*model.AIImageVerdict, error) {
	if !utils.HasJSONObject(content) {
		return &model.AIImageVerdict{
			Detected:        strings.Contains(strings.ToLower(content), "ai"),
			Confidence:      50,
			SynthIDLocation: "unknown",
			Indicators:      []string{},
			Explanation:     utils.Truncate(strings.TrimSpace(content), 200),
			Method:          "fallback",
		}, nil
	}

	var reply aiImageReply
	if err := utils.ParseAIJSON(content, &reply); err != nil {
		return nil, fmt.Errorf("failed to parse vision reply: %w", err)
	}

	verdict := &model.AIImageVerdict{
		Detected:          replyBool(reply.IsAIGenerated),
		Confidence:        utils.ClampInt(reply.Confidence.Value, 0, 100),
		HasSynthID:        replyBool(reply.HasSynthID),
		SynthIDConfidence: utils.ClampInt(reply.SynthIDConfidence.Value, 0, 100),
		SynthIDLocation:   reply.SynthIDLocation,
		Indicators:        make([]string, 0, len(reply.Indicators)),
		Explanation:       reply.Explanation,
		Method:            "full_analysis",
	}
	if verdict.SynthIDLocation == "" {
		verdict.SynthIDLocation = "unknown"
	}
	if verdict.Explanation == "" {
		verdict.Explanation = "No explanation provided"
	}
	for _, ind := range reply.Indicators {
		if s := strings.TrimSpace(fmt.Sprint(ind)); s != "" {
			verdict.Indicators = append(verdict.Indicators, s)
		}
	}
	return verdict, nil
}

func replyBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "1":
			return true
		}
	case float64:
		return b != 0
	}
	return false
}
