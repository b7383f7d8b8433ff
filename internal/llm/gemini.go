package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/raine/telegram-recommender-bot/internal/blobstore"
	"google.golang.org/genai"
)

const (
	DefaultGeminiVisionModel = "gemini-2.5-flash"
	DefaultGeminiTextModel   = "gemini-2.5-flash-lite"
)

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

func geminiUsage(result *genai.GenerateContentResponse) Usage {
	if result.UsageMetadata == nil {
		return Usage{}
	}
	return Usage{
		InputTokens:  int64(result.UsageMetadata.PromptTokenCount),
		OutputTokens: int64(result.UsageMetadata.CandidatesTokenCount),
		TotalTokens:  int64(result.UsageMetadata.TotalTokenCount),
	}
}

func geminiText(result *genai.GenerateContentResponse) (string, error) {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from Gemini: %w", ErrEmptyResponse)
	}
	return result.Text(), nil
}

// GeminiVision is a generative vision provider backed by Gemini. The image is
// read from the blob store and sent inline.
type GeminiVision struct {
	models    contentGenerator
	blobs     BlobReader
	model     string
	maxLabels int
}

// NewGeminiVision creates a Gemini vision provider.
func NewGeminiVision(client *genai.Client, blobs BlobReader, model string, maxLabels int) *GeminiVision {
	if model == "" {
		model = DefaultGeminiVisionModel
	}
	return &GeminiVision{models: client.Models, blobs: blobs, model: model, maxLabels: maxLabels}
}

func (g *GeminiVision) DetectLabels(ctx context.Context, ref blobstore.Reference) ([]string, error) {
	blob, err := readBlob(ctx, g.blobs, ref)
	if err != nil {
		return nil, err
	}

	parts := []*genai.Part{
		genai.NewPartFromText(labelUserPrompt),
		{InlineData: &genai.Blob{Data: blob.Data, MIMEType: blob.ContentType}},
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(LabelSystemPrompt(g.maxLabels), genai.RoleUser),
		MaxOutputTokens:   128,
	}

	start := time.Now()
	result, err := g.models.GenerateContent(ctx, g.model, []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	text, err := geminiText(result)
	if err != nil {
		return nil, err
	}
	logCall("vision", g.model, geminiUsage(result), time.Since(start))

	labels := ParseLabelList(text, g.maxLabels)
	if len(labels) == 0 {
		return nil, fmt.Errorf("no labels in response %q: %w", text, ErrEmptyResponse)
	}
	return labels, nil
}

// GeminiText is a text provider backed by Gemini.
type GeminiText struct {
	models      contentGenerator
	model       string
	temperature float32
	maxTokens   int32
}

// NewGeminiText creates a Gemini text provider.
func NewGeminiText(client *genai.Client, model string) *GeminiText {
	if model == "" {
		model = DefaultGeminiTextModel
	}
	return &GeminiText{models: client.Models, model: model, temperature: 0.7, maxTokens: 256}
}

func (g *GeminiText) Recommend(ctx context.Context, labels []string, topic string) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(RecommendSystemPrompt(), genai.RoleUser),
		Temperature:       genai.Ptr(g.temperature),
		MaxOutputTokens:   g.maxTokens,
	}

	start := time.Now()
	result, err := g.models.GenerateContent(ctx, g.model, genai.Text(RecommendUserPrompt(labels, topic)), config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	text, err := geminiText(result)
	if err != nil {
		return "", err
	}
	logCall("recommendation", g.model, geminiUsage(result), time.Since(start))

	return trimResponse(text)
}
