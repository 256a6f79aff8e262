package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// robotsTTL bounds how long a parsed robots.txt (or a fetch failure) is
// trusted before re-fetching.
const robotsTTL = time.Hour

type robotsEntry struct {
	data      *robotstxt.RobotsData // nil when fetch/parse failed
	fetchedAt time.Time
}

// RobotsHandler fetches, parses, and caches robots.txt per host with a TTL.
// Failures cache as permissive: an unreachable or malformed robots.txt
// never blocks a crawl.
type RobotsHandler struct {
	fetcher   *Fetcher
	limiters  *LimiterPool
	ignore    bool
	userAgent string

	mu    sync.Mutex
	cache map[string]robotsEntry

	log *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler. When ignore is set every check
// passes without any fetch.
func NewRobotsHandler(fetcher *Fetcher, limiters *LimiterPool, userAgent string, ignore bool, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		fetcher:   fetcher,
		limiters:  limiters,
		ignore:    ignore,
		userAgent: userAgent,
		cache:     make(map[string]robotsEntry),
		log:       log,
	}
}

// Allowed reports whether the URL may be fetched for pages. Media file URLs
// are exempt: the politeness decision was already made at the page that
// referenced them.
func (rh *RobotsHandler) Allowed(ctx context.Context, target *url.URL, isMedia bool) bool {
	if rh.ignore || isMedia {
		return true
	}
	data := rh.robotsData(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), rh.userAgent)
}

func (rh *RobotsHandler) robotsData(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Hostname()

	rh.mu.Lock()
	entry, found := rh.cache[host]
	rh.mu.Unlock()
	if found && time.Since(entry.fetchedAt) < robotsTTL {
		return entry.data
	}

	data := rh.fetchRobots(ctx, target)
	rh.mu.Lock()
	rh.cache[host] = robotsEntry{data: data, fetchedAt: time.Now()}
	rh.mu.Unlock()
	return data
}

// fetchRobots retrieves and parses /robots.txt for the target's host.
// Any failure returns nil, which callers treat as "allow everything".
func (rh *RobotsHandler) fetchRobots(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Hostname()
	robotsURL := &url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}
	if robotsURL.Scheme != "http" && robotsURL.Scheme != "https" {
		robotsURL.Scheme = "https"
	}
	robotsLog := rh.log.WithFields(logrus.Fields{"host": host, "robots_url": robotsURL.String()})
	robotsLog.Info("Fetching robots.txt...")

	if err := rh.limiters.Wait(ctx, host); err != nil {
		robotsLog.Warnf("Rate limiter wait aborted: %v", err)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		robotsLog.Errorf("Error creating request: %v", err)
		return nil
	}

	resp, fetchErr := rh.fetcher.FetchWithRetry(req, ctx)
	if fetchErr != nil {
		if resp != nil {
			drainAndClose(resp)
		}
		robotsLog.Warnf("Fetching robots.txt failed, treating host as permissive: %v", fetchErr)
		return nil
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		robotsLog.Errorf("Error reading robots.txt body: %v", err)
		return nil
	}

	data, err := robotstxt.FromBytes(bodyBytes)
	if err != nil {
		robotsLog.Errorf("Error parsing robots.txt: %v", err)
		return nil
	}
	robotsLog.Info("Successfully fetched and parsed robots.txt")
	return data
}
