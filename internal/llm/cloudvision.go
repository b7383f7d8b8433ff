package llm

import (
	"context"
	"fmt"
	"time"

	gvision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/raine/telegram-recommender-bot/internal/blobstore"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMinConfidence       = 90
	DefaultStructuredMaxLabels = 50
	DefaultGenerativeMaxLabels = 20
)

// imageAnnotator is the subset of *gvision.ImageAnnotatorClient used here.
type imageAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

// CloudVisionLabeler is the structured vision provider. It runs Google Cloud
// Vision label detection on images read from the blob store and drops labels
// below the confidence threshold.
type CloudVisionLabeler struct {
	client        imageAnnotator
	blobs         BlobReader
	minConfidence float32
	maxLabels     int
}

// NewCloudVisionLabeler creates a labeler using application default credentials.
// minConfidence is a percentage (0-100).
func NewCloudVisionLabeler(ctx context.Context, blobs BlobReader, minConfidence float64, maxLabels int) (*CloudVisionLabeler, error) {
	client, err := gvision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	return newCloudVisionLabeler(client, blobs, minConfidence, maxLabels), nil
}

func newCloudVisionLabeler(client imageAnnotator, blobs BlobReader, minConfidence float64, maxLabels int) *CloudVisionLabeler {
	if maxLabels <= 0 {
		maxLabels = DefaultStructuredMaxLabels
	}
	return &CloudVisionLabeler{
		client:        client,
		blobs:         blobs,
		minConfidence: float32(minConfidence / 100),
		maxLabels:     maxLabels,
	}
}

// Close releases the Vision API client.
func (c *CloudVisionLabeler) Close() error {
	return c.client.Close()
}

func (c *CloudVisionLabeler) DetectLabels(ctx context.Context, ref blobstore.Reference) ([]string, error) {
	blob, err := readBlob(ctx, c.blobs, ref)
	if err != nil {
		return nil, err
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: blob.Data},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_LABEL_DETECTION, MaxResults: int32(c.maxLabels)},
				},
			},
		},
	}

	start := time.Now()
	resp, err := c.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision API request failed: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, fmt.Errorf("vision API returned no responses: %w", ErrEmptyResponse)
	}
	if resp.Responses[0].Error != nil {
		return nil, fmt.Errorf("vision API error: %s", resp.Responses[0].Error.Message)
	}

	annotations := resp.Responses[0].LabelAnnotations
	labels := make([]string, 0, len(annotations))
	for _, a := range annotations {
		if a.Score < c.minConfidence {
			continue
		}
		labels = append(labels, a.Description)
		if len(labels) == c.maxLabels {
			break
		}
	}

	log.Info().
		Str("fingerprint", ref.Key.Short()).
		Int("annotations", len(annotations)).
		Int("labels", len(labels)).
		Dur("elapsed", time.Since(start)).
		Msg("label detection call")

	return labels, nil
}
