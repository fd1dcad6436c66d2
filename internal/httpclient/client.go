// Package httpclient configures the HTTP client used to call the routing
// workers.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound creates the shared outbound client. Routing requests can run
// for minutes on heavy modes, so the overall timeout is the caller-supplied
// socket timeout, not a fixed cap. maxPerHost bounds the connections a
// single worker sees; maxIdle is the total idle pool across the fleet.
func NewOutbound(timeout time.Duration, maxPerHost, maxIdle int) *http.Client {
	if maxPerHost <= 0 {
		maxPerHost = 10
	}
	if maxIdle <= 0 {
		maxIdle = 40
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxPerHost,
		MaxConnsPerHost:       maxPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
