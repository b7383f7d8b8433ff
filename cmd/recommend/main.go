// Command recommend runs one recommendation without Telegram: it labels the
// given images and prints recommendations for a topic.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/raine/telegram-recommender-bot/internal/bootstrap"
	"github.com/raine/telegram-recommender-bot/internal/config"
	"github.com/raine/telegram-recommender-bot/internal/imaging"
	"github.com/raine/telegram-recommender-bot/internal/llm"
	"github.com/raine/telegram-recommender-bot/internal/recommend"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	topic := flag.String("topic", "travel destinations", "What to recommend")
	visionName := flag.String("vision", llm.VisionStructured.String(), "Vision backend (structured, generative)")
	textName := flag.String("text", llm.TextFast.String(), "Text backend (fast, accurate, open)")
	store := flag.String("store", "", "Blob store (memory, file, sqlite); defaults to BLOB_STORE")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <image-path>...\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	vision, err := llm.ParseVisionBackend(*visionName)
	if err != nil {
		exitf("%v", err)
	}
	text, err := llm.ParseTextBackend(*textName)
	if err != nil {
		exitf("%v", err)
	}

	config.LoadEnvFile()
	cfg, err := config.FromEnv()
	if err != nil {
		exitf("invalid config: %v", err)
	}
	switch *store {
	case "":
	case config.BlobStoreMemory, config.BlobStoreFile, config.BlobStoreSQLite:
		cfg.BlobStore = *store
	default:
		exitf("unknown blob store: %q", *store)
	}
	if cfg.BlobStore == config.BlobStoreMemory || cfg.BlobStore == config.BlobStoreFile {
		cfg.DBPath = ""
	}

	images := make([]imaging.Image, 0, flag.NArg())
	for _, path := range flag.Args() {
		img, err := imaging.FromPath(path)
		if err != nil {
			exitf("%s: %v", path, err)
		}
		images = append(images, img)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		exitf("failed to initialize: %v", err)
	}
	defer app.Close()

	if cfg.HTTPAddr != "" {
		go func() {
			if err := app.Serve(ctx, cfg.HTTPAddr); err != nil {
				log.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	state, err := app.Orchestrator.Run(ctx, recommend.SessionState{}, recommend.Request{
		Topic:  *topic,
		Images: images,
		Vision: vision,
		Text:   text,
	})
	if err != nil {
		app.Close()
		exitf("%v", err)
	}

	fmt.Printf("Labels: %s\n\n", state.Labels)
	fmt.Println(state.Recommendations)
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
