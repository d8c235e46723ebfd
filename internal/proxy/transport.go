package proxy

import (
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// newHTTPClient builds the client used for cloud LLM calls. With useHTTP2 the
// transport negotiates h2 over TLS; without it h2 is disabled entirely, which
// helps behind proxies that mishandle long-lived h2 streams.
func newHTTPClient(timeout time.Duration, useHTTP2 bool) *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if useHTTP2 {
		if err := http2.ConfigureTransport(tr); err != nil {
			slog.Warn("http2 transport unavailable, using HTTP/1.1", "error", err)
		}
	} else {
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}
