// Package backend talks to the local media server: a transparent reverse
// proxy for everything this server does not intercept, and a typed Subsonic
// client for the calls it does.
package backend

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
)

type Backend struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
	client *http.Client
}

func New(rawURL string) (*Backend, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	// Flush immediately so transcoded streams and SSE pass through untouched.
	proxy.FlushInterval = -1

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = target.Host
	}

	return &Backend{
		target: target,
		proxy:  proxy,
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (b *Backend) TargetURL() string {
	return b.target.String()
}

// Handle forwards the request to the media server unchanged. Range and
// caching headers travel both ways, so seeking in local files keeps working.
func (b *Backend) Handle(c *gin.Context) {
	b.proxy.ServeHTTP(c.Writer, c.Request)
}
