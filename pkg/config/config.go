package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Options is the full command surface of a crawl run. Parsed with go-flags
// by the CLI; constructed directly in tests.
type Options struct {
	OutputDir      string        `short:"o" long:"out" description:"Root output directory" default:"media_output"`
	MaxDepth       int           `short:"d" long:"depth" description:"Maximum BFS link depth from the seed" default:"2"`
	MaxPages       int           `short:"p" long:"max-pages" description:"Hard cap on pages processed" default:"200"`
	RequestsPerSec float64       `short:"r" long:"rate" description:"Per-domain request rate (requests/second)" default:"2.0"`
	Workers        int           `short:"w" long:"workers" description:"Concurrent media downloads per page" default:"4"`
	UseBloom       bool          `long:"bloom" description:"Front the visited set with a bloom filter"`
	Compress       bool          `long:"compress" description:"Re-encode downloaded images as JPEG"`
	JPEGQuality    int           `long:"quality" description:"JPEG quality for --compress" default:"85"`
	PerceptualHash bool          `long:"phash" description:"Drop perceptually duplicate images"`
	CheckpointPath string        `long:"checkpoint" description:"Checkpoint file for resumable runs" default:"crawl_checkpoint.json"`
	Resume         bool          `long:"resume" description:"Restore crawl state from the checkpoint file"`
	ParseCSS       bool          `long:"parse-css" description:"Sweep linked stylesheets for background images"`
	IgnoreRobots   bool          `long:"ignore-robots" description:"Skip robots.txt checks entirely"`
	RenderJS       bool          `long:"render-js" description:"Render pages in headless Chrome before extraction"`
	JSWait         time.Duration `long:"js-wait" description:"Settle wait after page load when rendering" default:"2s"`
	MaxRetries     int           `long:"retries" description:"Retry attempts per HTTP request" default:"3"`
	Timeout        time.Duration `long:"timeout" description:"HTTP request timeout" default:"30s"`
	AuthUser       string        `long:"auth-user" description:"HTTP basic auth username"`
	AuthPass       string        `long:"auth-pass" description:"HTTP basic auth password"`
	CookieHeader   string        `long:"cookies" description:"Raw Cookie header sent with every request"`
	ChromePath     string        `long:"chrome" description:"Headless Chrome binary (default: discovered)"`
	PolicyFile     string        `long:"policy" description:"YAML file overriding filter thresholds"`
	UserAgent      string        `long:"user-agent" description:"User-Agent header" default:"mediagrab/1.0 (+https://github.com/mediagrab/mediagrab)"`
	Verbose        bool          `short:"v" long:"verbose" description:"Debug-level logging"`

	Positional struct {
		SeedURL string `positional-arg-name:"URL" description:"Seed page URL"`
	} `positional-args:"yes"`

	// Thresholds is populated from defaults, then the policy file if given.
	// It has no flag surface of its own.
	Thresholds Thresholds `no-flag:"yes"`
}

// Thresholds are the empirically-tuned filter limits. All are overridable
// from a YAML policy file so a site with unusual media conventions doesn't
// need a recompile.
type Thresholds struct {
	SquareThumbMaxSide int   `yaml:"square_thumb_max_side"` // -WxH suffix treated as thumbnail when square and <= this
	MinImageSide       int   `yaml:"min_image_side"`        // declared dimension floor for linked media
	MinImageArea       int   `yaml:"min_image_area"`        // declared area floor for linked media
	MinImageBytes      int64 `yaml:"min_image_bytes"`       // on-disk floor for images
	MinVideoBytes      int64 `yaml:"min_video_bytes"`       // on-disk floor for direct video files
	MaxAncestorHops    int   `yaml:"max_ancestor_hops"`     // DOM hops walked looking for a noise container
	RemuxTimeoutSec    int   `yaml:"remux_timeout_sec"`     // wall-clock limit on one ffmpeg remux
}

// DefaultThresholds returns the tuned defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SquareThumbMaxSide: 512,
		MinImageSide:       200,
		MinImageArea:       120000,
		MinImageBytes:      10 * 1024,
		MinVideoBytes:      50 * 1024,
		MaxAncestorHops:    8,
		RemuxTimeoutSec:    600,
	}
}

// LoadThresholds reads a YAML policy file over the defaults. Fields absent
// from the file keep their default values.
func LoadThresholds(path string) (Thresholds, error) {
	t := DefaultThresholds()
	data, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, err
	}
	return t, nil
}
