package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"mediagrab/pkg/fetch"
	"mediagrab/pkg/utils"
)

var (
	videoIDRe      = regexp.MustCompile(`(?i)video[=/]([a-zA-Z0-9]+)`)
	playerConfigRe = regexp.MustCompile(`(?s)window\.__PLAYER_CONFIG__\s*=\s*(\{.+?\});?\s*(?:</script>|var )`)
	manifestURLRe  = regexp.MustCompile(`"manifestUrl"\s*:\s*"(https://[^"]+)"`)
	m3u8Re         = regexp.MustCompile(`(https://[^\s"'<>]+\.m3u8[^\s"'<>]*)`)
	mpdRe          = regexp.MustCompile(`(https://[^\s"'<>]+\.mpd[^\s"'<>]*)`)
	m4sSegmentRe   = regexp.MustCompile(`(https://[^\s"'<>]+/video/\d+\.m4s[^\s"'<>]*)`)
	m4sToMpdRe     = regexp.MustCompile(`/video/\d+\.m4s.*`)
	mp4Re          = regexp.MustCompile(`(https://[^\s"'<>]+\.mp4[^\s"'<>]*)`)
)

// playerConfig is the subset of the embed player's bootstrap JSON we need.
type playerConfig struct {
	CriticalMetadata struct {
		ManifestURL string `json:"manifestUrl"`
	} `json:"criticalMetadata"`
}

// Resolver turns platform embed pages into playable stream URLs. Six
// strategies run in order of reliability; the first hit wins.
type Resolver struct {
	fetcher *fetch.Fetcher
	log     *logrus.Logger
}

// NewResolver creates a Resolver using the engine's fetcher, so embed page
// requests go through the same retry and header policy as everything else.
func NewResolver(fetcher *fetch.Fetcher, log *logrus.Logger) *Resolver {
	return &Resolver{fetcher: fetcher, log: log}
}

// IsPlatformEmbed reports whether an iframe src points at a supported video
// platform.
func IsPlatformEmbed(src string) bool {
	return strings.Contains(src, "dailymotion.com")
}

// ResolveEmbed extracts the video ID from an embed URL, fetches the
// canonical embed page, and resolves the stream from its markup.
func (r *Resolver) ResolveEmbed(ctx context.Context, embedURL string) (string, error) {
	m := videoIDRe.FindStringSubmatch(embedURL)
	if m == nil {
		return "", fmt.Errorf("%w: no video id in embed URL %s", utils.ErrNoStreamFound, embedURL)
	}
	videoID := m[1]
	embedLog := r.log.WithField("video_id", videoID)

	embedPageURL := fmt.Sprintf("https://www.dailymotion.com/embed/video/%s", videoID)
	req, err := r.fetcher.NewRequest(ctx, embedPageURL, "")
	if err != nil {
		return "", err
	}
	resp, err := r.fetcher.FetchWithRetry(req, ctx)
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return "", fmt.Errorf("fetching embed page: %w", err)
	}
	defer resp.Body.Close()

	html, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}

	streamURL, strategy := r.Resolve(string(html))
	if streamURL == "" {
		embedLog.Warn("All resolution strategies failed")
		return "", fmt.Errorf("%w: all strategies failed for video %s", utils.ErrNoStreamFound, videoID)
	}
	embedLog.WithField("strategy", strategy).Infof("Resolved stream: %.70s", streamURL)
	return streamURL, nil
}

// Resolve runs the strategy chain over raw player markup. Returns the
// stream URL and the 1-based strategy number that produced it, or ("", 0).
func (r *Resolver) Resolve(html string) (string, int) {
	// 1: player bootstrap JSON carries the manifest directly
	if m := playerConfigRe.FindStringSubmatch(html); m != nil {
		var cfg playerConfig
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &cfg); err == nil {
			if cfg.CriticalMetadata.ManifestURL != "" {
				return cfg.CriticalMetadata.ManifestURL, 1
			}
		} else {
			r.log.Debugf("Player config JSON parse error: %v", err)
		}
	}

	// 2: bare manifestUrl field anywhere in the markup
	if m := manifestURLRe.FindStringSubmatch(html); m != nil {
		return m[1], 2
	}

	// 3: any HLS playlist, preferring CDN director and manifest URLs
	if urls := m3u8Re.FindAllString(html, -1); len(urls) > 0 {
		return bestManifest(urls), 3
	}

	// 4: any DASH manifest, same preference
	if urls := mpdRe.FindAllString(html, -1); len(urls) > 0 {
		return bestManifest(urls), 4
	}

	// 5: rebuild the manifest path from a DASH media segment
	if m := m4sSegmentRe.FindStringSubmatch(html); m != nil {
		return m4sToMpdRe.ReplaceAllString(m[1], "/manifest.mpd"), 5
	}

	// 6: longest direct MP4 that isn't a poster or thumbnail
	if urls := mp4Re.FindAllString(html, -1); len(urls) > 0 {
		var best string
		for _, u := range urls {
			if strings.Contains(u, "poster") || strings.Contains(u, "thumb") {
				continue
			}
			if len(u) > len(best) {
				best = u
			}
		}
		if best != "" {
			return best, 6
		}
	}

	return "", 0
}

// bestManifest ranks candidate manifests: cdndirector host first, then URLs
// containing "manifest", then by length.
func bestManifest(urls []string) string {
	best := urls[0]
	for _, u := range urls[1:] {
		if manifestLess(best, u) {
			best = u
		}
	}
	return best
}

// manifestLess reports whether b outranks a.
func manifestLess(a, b string) bool {
	aDir, bDir := strings.Contains(a, "cdndirector"), strings.Contains(b, "cdndirector")
	if aDir != bDir {
		return bDir
	}
	aMan, bMan := strings.Contains(a, "manifest"), strings.Contains(b, "manifest")
	if aMan != bMan {
		return bMan
	}
	return len(b) > len(a)
}
