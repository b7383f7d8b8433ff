// Package recommend turns a topic and a set of photos into personalized
// recommendations. Labels are recomputed only when the image set or the
// vision backend changes; recommendations are generated on every request.
package recommend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/raine/telegram-recommender-bot/internal/blobstore"
	"github.com/raine/telegram-recommender-bot/internal/imaging"
	"github.com/raine/telegram-recommender-bot/internal/llm"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxImages   = 10
	DefaultConcurrency = 4
)

type Config struct {
	MaxImages   int
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.MaxImages <= 0 {
		c.MaxImages = DefaultMaxImages
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// Recorder receives pipeline events, e.g. for metrics.
type Recorder interface {
	ProviderCall(kind, backend string, elapsed time.Duration, err error)
	ImageStored(uploaded bool)
	Analysis(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ProviderCall(string, string, time.Duration, error) {}
func (nopRecorder) ImageStored(bool)                                 {}
func (nopRecorder) Analysis(string)                                  {}

type Option func(*Orchestrator)

// WithRecorder sets the recorder notified about provider calls and stores.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// Orchestrator coordinates the blob store and the vision and text backends.
// It holds no per-session state and is safe for concurrent use by different
// sessions.
type Orchestrator struct {
	store    blobstore.Store
	vision   llm.VisionSet
	text     llm.TextSet
	cfg      Config
	recorder Recorder
}

func New(store blobstore.Store, vision llm.VisionSet, text llm.TextSet, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		vision:   vision,
		text:     text,
		cfg:      cfg.withDefaults(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// MaxImages is the configured upper bound of images per request.
func (o *Orchestrator) MaxImages() int {
	return o.cfg.MaxImages
}

// AnalyzeRequest is the input of a label computation.
type AnalyzeRequest struct {
	Topic  string
	Images []imaging.Image
	Vision llm.VisionBackend
}

// Request is the input of a full recommendation run.
type Request struct {
	Topic  string
	Images []imaging.Image
	Vision llm.VisionBackend
	Text   llm.TextBackend
}

// Validate checks the preconditions shared by all operations.
func (o *Orchestrator) Validate(topic string, images []imaging.Image) error {
	if strings.TrimSpace(topic) == "" {
		return ErrMissingTopic
	}
	if len(images) == 0 {
		return ErrMissingImages
	}
	if len(images) > o.cfg.MaxImages {
		return ErrTooManyImages
	}
	return nil
}

// Analyze computes the label set for the request's images. When the image
// set and vision backend equal those of state, state is returned unchanged
// without touching the blob store or any backend. A failure for any image
// fails the whole batch; the previous labels are kept and the error is
// recorded in the returned state.
func (o *Orchestrator) Analyze(ctx context.Context, state SessionState, req AnalyzeRequest) (SessionState, error) {
	if err := o.Validate(req.Topic, req.Images); err != nil {
		o.recorder.Analysis("failed")
		return state.withError(err), err
	}

	prepared, fingerprints, err := prepareAll(req.Images)
	if err != nil {
		o.recorder.Analysis("failed")
		return state.withError(err), err
	}

	if state.sameInput(fingerprints, req.Vision) {
		log.Debug().
			Int("images", len(fingerprints)).
			Str("backend", req.Vision.String()).
			Msg("images unchanged, reusing labels")
		o.recorder.Analysis("reused")
		state.Error = ""
		return state, nil
	}

	provider, err := o.vision.For(req.Vision)
	if err != nil {
		err = visionError(req.Vision, err)
		o.recorder.Analysis("failed")
		return state.withError(err), err
	}

	start := time.Now()
	results := make([][]string, len(prepared))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for i, p := range prepared {
		g.Go(func() error {
			labels, err := o.analyzeImage(gctx, provider, req.Vision, p)
			if err != nil {
				return err
			}
			results[i] = labels
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Str("backend", req.Vision.String()).Msg("label detection failed")
		o.recorder.Analysis("failed")
		return state.withError(err), err
	}

	var labels LabelSet
	for _, r := range results {
		labels.Add(r...)
	}

	log.Info().
		Int("images", len(fingerprints)).
		Str("backend", req.Vision.String()).
		Int("labelCount", labels.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("analyzed images")
	o.recorder.Analysis("computed")

	state.Images = fingerprints
	state.Vision = req.Vision
	state.Labels = labels
	state.Analyzed = true
	state.Recommendations = ""
	state.Error = ""
	return state, nil
}

// prepareAll fingerprints images and drops duplicates within the batch.
// Fingerprints are returned sorted.
func prepareAll(images []imaging.Image) ([]imaging.Prepared, []imaging.Fingerprint, error) {
	seen := make(map[imaging.Fingerprint]bool, len(images))
	prepared := make([]imaging.Prepared, 0, len(images))
	for _, img := range images {
		p, err := imaging.Prepare(img)
		if err != nil {
			return nil, nil, err
		}
		if seen[p.Fingerprint] {
			continue
		}
		seen[p.Fingerprint] = true
		prepared = append(prepared, p)
	}

	fingerprints := make([]imaging.Fingerprint, len(prepared))
	for i, p := range prepared {
		fingerprints[i] = p.Fingerprint
	}
	sort.Slice(fingerprints, func(i, j int) bool { return fingerprints[i] < fingerprints[j] })
	return prepared, fingerprints, nil
}

func (o *Orchestrator) analyzeImage(ctx context.Context, provider llm.VisionProvider, backend llm.VisionBackend, p imaging.Prepared) ([]string, error) {
	ref, err := o.storeImage(ctx, p)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	labels, err := provider.DetectLabels(ctx, ref)
	o.recorder.ProviderCall("vision", backend.String(), time.Since(start), err)
	if err != nil {
		return nil, visionError(backend, err)
	}

	log.Debug().
		Str("fingerprint", p.Fingerprint.Short()).
		Str("backend", backend.String()).
		Int("labelCount", len(labels)).
		Msg("detected labels")
	return labels, nil
}

// storeImage uploads the normalized image unless its fingerprint is already
// stored.
func (o *Orchestrator) storeImage(ctx context.Context, p imaging.Prepared) (blobstore.Reference, error) {
	exists, err := o.store.Exists(ctx, p.Fingerprint)
	if err != nil {
		return blobstore.Reference{}, fmt.Errorf("failed to check stored image %s: %w", p.Fingerprint.Short(), err)
	}
	if exists {
		o.recorder.ImageStored(false)
		return o.store.Resolve(p.Fingerprint), nil
	}

	normalized, err := p.Normalize()
	if err != nil {
		return blobstore.Reference{}, err
	}
	ref, err := o.store.Put(ctx, p.Fingerprint, normalized)
	if err != nil {
		return blobstore.Reference{}, fmt.Errorf("failed to store image %s: %w", p.Fingerprint.Short(), err)
	}
	o.recorder.ImageStored(true)

	log.Debug().
		Str("fingerprint", p.Fingerprint.Short()).
		Int("bytes", len(normalized.Data)).
		Msg("stored image")
	return ref, nil
}

// Recommend generates recommendations for topic from the labels in state
// using the given text backend. It always calls the backend.
func (o *Orchestrator) Recommend(ctx context.Context, state SessionState, topic string, backend llm.TextBackend) (SessionState, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return state.withError(ErrMissingTopic), ErrMissingTopic
	}
	if !state.HasLabels() {
		return state.withError(ErrNoLabels), ErrNoLabels
	}

	provider, err := o.text.For(backend)
	if err != nil {
		err = textError(backend, err)
		return state.withError(err), err
	}

	start := time.Now()
	text, err := provider.Recommend(ctx, state.Labels.Sorted(), topic)
	o.recorder.ProviderCall("text", backend.String(), time.Since(start), err)
	if err != nil {
		err = textError(backend, err)
		log.Warn().Err(err).Str("backend", backend.String()).Msg("recommendation failed")
		return state.withError(err), err
	}

	state.Topic = topic
	state.Text = backend
	state.Recommendations = text
	state.Error = ""
	return state, nil
}

// Run is the full "generate recommendations" action: analyze the images
// (reusing labels when nothing changed) and generate recommendations.
func (o *Orchestrator) Run(ctx context.Context, state SessionState, req Request) (SessionState, error) {
	state.Error = ""
	state, err := o.Analyze(ctx, state, AnalyzeRequest{Topic: req.Topic, Images: req.Images, Vision: req.Vision})
	if err != nil {
		return state, err
	}
	return o.Recommend(ctx, state, req.Topic, req.Text)
}
