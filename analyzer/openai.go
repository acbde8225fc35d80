package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/mmdatafocus/mrv_backend/config"
	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

const defaultVisionModel = "gpt-4o-mini"

var ErrEmptyResponse = errors.New("analyzer returned no choices")

// OpenAIAnalyzer sends the evidence photo to a vision-capable chat model.
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

func NewOpenAIAnalyzer() (*OpenAIAnalyzer, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	model := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = defaultVisionModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	config.GetLogger().WithFields(logrus.Fields{"field": "analyzer", "model": model}).Info("initializing openai analyzer")
	return &OpenAIAnalyzer{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func BuildPrompt(practiceType models.PracticeType, verificationType models.VerificationType) string {
	return fmt.Sprintf(`Analyze this agricultural image for %s farming compliance.

Verification type: %s
Practice type: %s

Please assess:
1. Compliance with sustainable farming practices
2. Crop health and growth stage
3. Evidence of proper irrigation/fertilizer use
4. Any signs of pest/disease issues
5. Overall sustainability indicators

Reply with JSON only: {"confidence": <0-100>, "findings": [<short strings>], "recommendations": [<short strings>]}`,
		practiceType, verificationType, practiceType)
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, req Request) (*Output, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: BuildPrompt(req.PracticeType, req.VerificationType)},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: req.ImageURL, Detail: openai.ImageURLDetailLow}},
				},
			},
		},
		MaxTokens: 500,
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	return ParseResponse(resp.Choices[0].Message.Content), nil
}

type structuredReply struct {
	Confidence      *float64 `json:"confidence"`
	Findings        []string `json:"findings"`
	Recommendations []string `json:"recommendations"`
}

// ParseResponse reads the JSON reply when the model complied, and otherwise
// keeps the raw text as narrative. A score strictly between 0 and 1 is read as a fraction.
// A score outside [0, 100] leaves Confidence nil so the reply counts as malformed.
func ParseResponse(content string) *Output {
	body := strings.TrimSpace(content)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	var reply structuredReply
	if err := json.Unmarshal([]byte(body), &reply); err != nil || reply.Confidence == nil {
		return &Output{Narrative: content}
	}
	score := *reply.Confidence
	if score > 0 && score < 1 {
		score *= 100
	}
	if math.IsNaN(score) || score < 0 || score > 100 {
		return &Output{Narrative: content}
	}
	c := int(math.Round(score))
	return &Output{
		Narrative:       strings.Join(reply.Findings, "\n"),
		Confidence:      &c,
		Recommendations: reply.Recommendations,
	}
}
