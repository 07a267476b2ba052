package api

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

// Timing is the phase breakdown of one API request, logged at debug level
// so slow saves can be told apart from slow uploads.
type Timing struct {
	Connect time.Duration // DNS and TCP, zero on a reused connection
	TLS     time.Duration
	Upload  time.Duration // headers and body written
	Wait    time.Duration // request written to first response byte
	Total   time.Duration
	Reused  bool
}

// Overhead is everything before the server started answering.
func (t Timing) Overhead() time.Duration {
	return t.Connect + t.TLS + t.Upload
}

type response struct {
	status int
	body   []byte
	timing Timing
}

type tracedClient struct {
	client *http.Client
}

func newTracedClient(timeout time.Duration) *tracedClient {
	return &tracedClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
	}
}

// do sends req and reads the whole body. Status codes are left to the caller.
func (c *tracedClient) do(req *http.Request) (*response, error) {
	var t Timing
	var dialStart, tlsStart, gotConn, wrote time.Time
	trace := &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { dialStart = time.Now() },
		ConnectStart: func(_, _ string) {
			if dialStart.IsZero() {
				dialStart = time.Now()
			}
		},
		ConnectDone:       func(_, _ string, _ error) { t.Connect = time.Since(dialStart) },
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone:  func(tls.ConnectionState, error) { t.TLS = time.Since(tlsStart) },
		GotConn: func(info httptrace.GotConnInfo) {
			gotConn = time.Now()
			t.Reused = info.Reused
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			wrote = time.Now()
			t.Upload = wrote.Sub(gotConn)
		},
		GotFirstResponseByte: func() { t.Wait = time.Since(wrote) },
	}

	start := time.Now()
	resp, err := c.client.Do(req.WithContext(httptrace.WithClientTrace(req.Context(), trace)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	t.Total = time.Since(start)
	return &response{status: resp.StatusCode, body: body, timing: t}, nil
}
