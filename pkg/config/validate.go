package config

import (
	"fmt"
	"net/url"
	"time"

	"mediagrab/pkg/utils"
)

// Validate checks Options and applies defaults for out-of-range values.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (o *Options) Validate() (warnings []string, err error) {
	// Seed URL is the only hard requirement.
	if o.Positional.SeedURL == "" {
		return nil, fmt.Errorf("%w: a seed URL is required", utils.ErrConfigValidation)
	}
	u, perr := url.ParseRequestURI(o.Positional.SeedURL)
	if perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: seed URL %q is not an absolute http(s) URL", utils.ErrConfigValidation, o.Positional.SeedURL)
	}

	if o.OutputDir == "" {
		warnings = append(warnings, "output directory is empty, defaulting to './media_output'")
		o.OutputDir = "media_output"
	}

	if o.MaxDepth < 0 {
		warnings = append(warnings, "depth cannot be negative, setting to 0 (seed page only)")
		o.MaxDepth = 0
	}

	if o.MaxPages <= 0 {
		warnings = append(warnings, "max-pages should be > 0, defaulting to 200")
		o.MaxPages = 200
	}

	if o.RequestsPerSec <= 0 {
		warnings = append(warnings, "rate should be > 0, defaulting to 2.0 req/s")
		o.RequestsPerSec = 2.0
	}

	if o.Workers <= 0 {
		warnings = append(warnings, "workers should be > 0, defaulting to 4")
		o.Workers = 4
	}

	if o.JPEGQuality < 1 || o.JPEGQuality > 100 {
		warnings = append(warnings, fmt.Sprintf("quality %d outside 1..100, defaulting to 85", o.JPEGQuality))
		o.JPEGQuality = 85
	}

	if o.MaxRetries < 0 {
		warnings = append(warnings, "retries cannot be negative, setting to 0")
		o.MaxRetries = 0
	}

	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}

	if o.JSWait < 0 {
		warnings = append(warnings, "js-wait cannot be negative, setting to 0")
		o.JSWait = 0
	}
	if o.RenderJS && o.JSWait == 0 {
		o.JSWait = 2 * time.Second
	}

	if o.CheckpointPath == "" {
		o.CheckpointPath = "crawl_checkpoint.json"
	}

	// Basic auth needs both halves.
	if (o.AuthUser == "") != (o.AuthPass == "") {
		return nil, fmt.Errorf("%w: basic auth requires both --auth-user and --auth-pass", utils.ErrConfigValidation)
	}

	// Thresholds: defaults, then policy file on top.
	if o.Thresholds == (Thresholds{}) {
		o.Thresholds = DefaultThresholds()
	}
	if o.PolicyFile != "" {
		t, lerr := LoadThresholds(o.PolicyFile)
		if lerr != nil {
			return warnings, fmt.Errorf("%w: policy file %s: %v", utils.ErrConfigValidation, o.PolicyFile, lerr)
		}
		o.Thresholds = t
	}
	if werr := o.Thresholds.validate(); werr != nil {
		return warnings, werr
	}

	return warnings, nil
}

func (t *Thresholds) validate() error {
	if t.SquareThumbMaxSide < 0 || t.MinImageSide < 0 || t.MinImageArea < 0 ||
		t.MinImageBytes < 0 || t.MinVideoBytes < 0 {
		return fmt.Errorf("%w: thresholds cannot be negative", utils.ErrConfigValidation)
	}
	if t.MaxAncestorHops <= 0 {
		t.MaxAncestorHops = 8
	}
	if t.RemuxTimeoutSec <= 0 {
		t.RemuxTimeoutSec = 600
	}
	return nil
}

// SeedURL is a convenience accessor for the positional argument.
func (o *Options) SeedURL() string { return o.Positional.SeedURL }
