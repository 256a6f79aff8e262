package extract

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"mediagrab/pkg/resolver"
)

var (
	// streamExtensions are matched as substrings, so query strings after
	// the extension still count.
	streamExtensions = []string{".mp4", ".m3u8", ".mpd", ".m4s"}

	// videoNoisePatterns veto UI assets that slip into the raw URL sweep.
	videoNoisePatterns = []string{"icon", "sprite", "favicon", "logo", "button", "arrow"}

	rawURLRe    = regexp.MustCompile(`https?://[^\s"'<>]+`)
	dashSweepRe = regexp.MustCompile(`(?i)(https?://[^\s"'<>]+\.mpd(?:\?[^\s"'<>]*)?)`)
)

// VideoDiscoverer collects candidate video URLs from a page: player markup,
// platform embeds, lazy-load attributes, and a raw sweep over the HTML for
// anything that looks like a stream.
type VideoDiscoverer struct {
	resolver *resolver.Resolver
	log      *logrus.Logger
}

// NewVideoDiscoverer creates a VideoDiscoverer.
func NewVideoDiscoverer(res *resolver.Resolver, log *logrus.Logger) *VideoDiscoverer {
	return &VideoDiscoverer{resolver: res, log: log}
}

// Discover returns the sorted unique video URLs of a page. rawHTML is the
// unparsed markup; the regex sweep sees script bodies and JSON blobs the
// DOM walk cannot.
func (vd *VideoDiscoverer) Discover(ctx context.Context, doc *goquery.Document, rawHTML string, pageURL *url.URL, taskLog *logrus.Entry) []string {
	videos := make(map[string]struct{})
	add := func(raw string) {
		full, err := pageURL.Parse(strings.TrimSpace(raw))
		if err != nil {
			return
		}
		if full.Scheme != "http" && full.Scheme != "https" {
			return
		}
		videos[full.String()] = struct{}{}
	}

	// <video src> and nested <source>
	doc.Find("video").Each(func(_ int, video *goquery.Selection) {
		if src, ok := video.Attr("src"); ok && src != "" {
			add(src)
		}
		video.Find("source").Each(func(_ int, source *goquery.Selection) {
			if src, ok := source.Attr("src"); ok && src != "" {
				add(src)
			}
		})
	})

	// platform embeds resolved to real streams
	doc.Find("iframe").Each(func(_ int, iframe *goquery.Selection) {
		src, ok := iframe.Attr("src")
		if !ok || !resolver.IsPlatformEmbed(src) {
			return
		}
		taskLog.Infof("Found platform embed iframe: %.60s", src)
		streamURL, err := vd.resolver.ResolveEmbed(ctx, src)
		if err != nil {
			taskLog.Warnf("Embed resolution failed: %v", err)
			return
		}
		add(streamURL)
	})

	// lazy-load attributes
	doc.Find("[data-src]").Each(func(_ int, tag *goquery.Selection) {
		src, _ := tag.Attr("data-src")
		if hasStreamExtension(src) {
			add(src)
		}
	})

	// raw markup sweep
	for _, u := range rawURLRe.FindAllString(rawHTML, -1) {
		if hasStreamExtension(u) {
			add(u)
		}
	}
	for _, u := range dashSweepRe.FindAllString(rawHTML, -1) {
		add(u)
	}

	out := make([]string, 0, len(videos))
	for u := range videos {
		if isVideoNoise(u) {
			continue
		}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func hasStreamExtension(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, ext := range streamExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

func isVideoNoise(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, p := range videoNoisePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
