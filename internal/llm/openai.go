package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/raine/telegram-recommender-bot/internal/blobstore"
)

const (
	DefaultOpenAIVisionModel = "gpt-4.1-mini"
	DefaultOpenAITextModel   = "gpt-4.1"
)

// NewOpenAIClient creates an OpenAI client. An empty baseURL uses the public API.
func NewOpenAIClient(apiKey, baseURL string, opts ...option.RequestOption) openai.Client {
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(opts...)
}

func openaiUsage(resp *openai.ChatCompletion) Usage {
	return Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
}

// OpenAIVision is a generative vision provider backed by an OpenAI chat
// model. Images are sent as data URLs read from the blob store unless the
// store's URLs are publicly reachable.
type OpenAIVision struct {
	client    openai.Client
	blobs     BlobReader
	model     string
	maxLabels int
}

// NewOpenAIVision creates an OpenAI vision provider that inlines images read
// from blobs. A nil blobs passes the reference URL instead, which the API
// must be able to fetch.
func NewOpenAIVision(client openai.Client, blobs BlobReader, model string, maxLabels int) *OpenAIVision {
	if model == "" {
		model = DefaultOpenAIVisionModel
	}
	return &OpenAIVision{client: client, blobs: blobs, model: model, maxLabels: maxLabels}
}

func (o *OpenAIVision) imageURL(ctx context.Context, ref blobstore.Reference) (string, error) {
	if o.blobs == nil {
		return ref.URL, nil
	}
	blob, err := readBlob(ctx, o.blobs, ref)
	if err != nil {
		return "", err
	}
	return dataURL(blob), nil
}

func (o *OpenAIVision) DetectLabels(ctx context.Context, ref blobstore.Reference) ([]string, error) {
	imageURL, err := o.imageURL(ctx, ref)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(LabelSystemPrompt(o.maxLabels)),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(labelUserPrompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: imageURL,
				}),
			}),
		},
		MaxTokens: openai.Int(128),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI: %w", ErrEmptyResponse)
	}
	logCall("vision", o.model, openaiUsage(resp), time.Since(start))

	text := resp.Choices[0].Message.Content
	labels := ParseLabelList(text, o.maxLabels)
	if len(labels) == 0 {
		return nil, fmt.Errorf("no labels in response %q: %w", text, ErrEmptyResponse)
	}
	return labels, nil
}

// OpenAIText is a text provider backed by an OpenAI chat model.
type OpenAIText struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

// NewOpenAIText creates an OpenAI text provider.
func NewOpenAIText(client openai.Client, model string) *OpenAIText {
	if model == "" {
		model = DefaultOpenAITextModel
	}
	return &OpenAIText{client: client, model: model, temperature: 0.7, maxTokens: 256}
}

func (o *OpenAIText) Recommend(ctx context.Context, labels []string, topic string) (string, error) {
	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(RecommendSystemPrompt()),
			openai.UserMessage(RecommendUserPrompt(labels, topic)),
		},
		Temperature: openai.Float(o.temperature),
		MaxTokens:   openai.Int(o.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI: %w", ErrEmptyResponse)
	}
	logCall("recommendation", o.model, openaiUsage(resp), time.Since(start))

	return trimResponse(resp.Choices[0].Message.Content)
}
