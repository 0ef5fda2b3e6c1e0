// Package httpclient provides the shared HTTP client used for index and
// bottle fetches. One instance per process.
package httpclient

import (
	"net"
	"net/http"
	"sync"
	"time"
)

var (
	once     sync.Once
	instance *http.Client
)

// Get returns the process-wide HTTP client, creating it on first use.
func Get() *http.Client {
	once.Do(func() {
		instance = createClient()
	})
	return instance
}

func createClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	// No overall client timeout: bottle downloads are long-running
	// streams bounded by the transport's per-phase timeouts instead.
	return &http.Client{Transport: transport}
}
