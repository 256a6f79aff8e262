package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"mediagrab/pkg/audit"
	"mediagrab/pkg/checkpoint"
	"mediagrab/pkg/config"
	"mediagrab/pkg/crawler"
	"mediagrab/pkg/dedup"
	"mediagrab/pkg/download"
	"mediagrab/pkg/extract"
	"mediagrab/pkg/fetch"
	"mediagrab/pkg/models"
	"mediagrab/pkg/render"
	"mediagrab/pkg/resolver"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "images":
		os.Exit(runCrawl(os.Args[2:], models.KindImage))
	case "videos":
		os.Exit(runCrawl(os.Args[2:], models.KindVideo))
	case "version":
		fmt.Printf("mediagrab %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`mediagrab - media discovery and download crawler

Usage:
  mediagrab <command> [options] URL

Commands:
  images      Crawl from the seed URL and download content images
  videos      Crawl from the seed URL and download or convert videos
  version     Show version info

Run 'mediagrab <command> -h' for command-specific help.`)
}

// runCrawl handles both the images and videos subcommands. Returns the
// process exit code.
func runCrawl(args []string, mode models.MediaKind) int {
	var opts config.Options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Println(flagsErr.Message)
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := opts.Validate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log := setupLogger(&opts)
	for _, w := range warnings {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, &opts, mode, log); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("Crawl interrupted; state saved in checkpoint")
			return 130
		}
		log.Errorf("Crawl failed: %v", err)
		return 1
	}
	return 0
}

// execute wires the components and runs the crawl to completion.
func execute(ctx context.Context, opts *config.Options, mode models.MediaKind, log *logrus.Logger) error {
	client := fetch.NewClient(opts, log)
	fetcher := fetch.NewFetcher(client, opts, log)
	limiters := fetch.NewLimiterPool(opts.RequestsPerSec)
	robots := fetch.NewRobotsHandler(fetcher, limiters, opts.UserAgent, opts.IgnoreRobots, logrus.NewEntry(log))

	visited := dedup.NewVisitedSet(opts.UseBloom, 0)
	store := dedup.NewStore(opts.PerceptualHash)
	if opts.Resume {
		st, err := checkpoint.Load(opts.CheckpointPath)
		if err != nil {
			return fmt.Errorf("loading checkpoint: %w", err)
		}
		visited.Restore(st.VisitedURLs)
		store.Restore(st.DownloadedHashes, st.PerceptualHashes)
		log.Infof("Resumed from checkpoint: %d visited pages, %d downloaded URLs",
			len(st.VisitedURLs), len(st.DownloadedHashes))
	}

	auditLog, err := audit.Open(opts.OutputDir)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	stats := &models.CrawlStats{}
	videos := download.NewVideoPipeline(fetcher, limiters, robots, store, auditLog, stats, opts, log)
	if mode == models.KindVideo && !videos.FFmpegAvailable() {
		log.Warnf("ffmpeg not found on PATH; stream manifests will be recorded in %s instead of converted", auditLog.StreamPath())
	}

	var renderer *render.Renderer
	if opts.RenderJS {
		renderer, err = render.New(opts, log)
		if err != nil {
			return fmt.Errorf("starting renderer: %w", err)
		}
		defer renderer.Close()
	}

	deps := crawler.Deps{
		Fetcher:    fetcher,
		Limiters:   limiters,
		Robots:     robots,
		Visited:    visited,
		Store:      store,
		Images:     download.NewImagePipeline(fetcher, limiters, robots, store, auditLog, stats, opts, log),
		Videos:     videos,
		Extractor:  extract.NewImageExtractor(opts, fetcher, limiters, log),
		Discoverer: extract.NewVideoDiscoverer(resolver.NewResolver(fetcher, log), log),
		Renderer:   renderer,
		Stats:      stats,
	}

	c, err := crawler.New(opts, mode, deps, log)
	if err != nil {
		return err
	}
	return c.Run(ctx)
}

// setupLogger configures the run's logger from the verbosity flag.
func setupLogger(opts *config.Options) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}
