package fetch

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"mediagrab/pkg/config"
)

// headerTransport decorates every outgoing request with the standing
// headers of the run: User-Agent, optional basic auth, optional raw
// Cookie header.
type headerTransport struct {
	base         http.RoundTripper
	userAgent    string
	authUser     string
	authPass     string
	cookieHeader string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if t.authUser != "" {
		req.SetBasicAuth(t.authUser, t.authPass)
	}
	if t.cookieHeader != "" && req.Header.Get("Cookie") == "" {
		req.Header.Set("Cookie", t.cookieHeader)
	}
	return t.base.RoundTrip(req)
}

// NewClient builds the shared HTTP client for the run.
func NewClient(opts *config.Options, log *logrus.Logger) *http.Client {
	dialer := &net.Dialer{
		Timeout:   15 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           100,
		MaxIdleConnsPerHost:    4,
		IdleConnTimeout:        90 * time.Second,
		TLSHandshakeTimeout:    10 * time.Second,
		ExpectContinueTimeout:  1 * time.Second,
		MaxResponseHeaderBytes: 1 << 20,
	}

	client := &http.Client{
		Timeout: opts.Timeout,
		Transport: &headerTransport{
			base:         transport,
			userAgent:    opts.UserAgent,
			authUser:     opts.AuthUser,
			authPass:     opts.AuthPass,
			cookieHeader: opts.CookieHeader,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
	return client
}
