// Package hook carries cross-cutting http-client instrumentation.
package hook

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// LoggingTransport wraps a RoundTripper and logs method, URL, status and
// duration of every request through zerolog.
type LoggingTransport struct {
	base http.RoundTripper
}

func NewLoggingTransport(base http.RoundTripper) *LoggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &LoggingTransport{base: base}
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start)

	if err != nil {
		log.Warn().
			Str("method", req.Method).
			Str("url", req.URL.String()).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("http request failed")
		return nil, err
	}

	log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("http request")
	return resp, nil
}

// SetHttpClientResult wraps the SET_HTTP_CLIENT hook's return value.
type SetHttpClientResult struct {
	Err    error
	Client *http.Client
}

func (r *SetHttpClientResult) Error() error {
	if r.Err != nil {
		log.Printf("⚠️ SET_HTTP_CLIENT hook failed: %v", r.Err)
	}
	return r.Err
}

func (r *SetHttpClientResult) GetResult() *http.Client {
	r.Error()
	return r.Client
}

// WrapClient installs the logging transport on a client, keeping whatever
// base transport it already had. A registered SET_HTTP_CLIENT hook takes
// precedence and supplies the client wholesale.
func WrapClient(c *http.Client) *http.Client {
	if res := HookExec[SetHttpClientResult](SET_HTTP_CLIENT, c); res != nil {
		if hooked := res.GetResult(); hooked != nil {
			return hooked
		}
	}
	if c == nil {
		c = &http.Client{}
	}
	c.Transport = NewLoggingTransport(c.Transport)
	return c
}
