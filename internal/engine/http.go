package engine

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// NewHTTPClient builds the client used for probing and generation. proxyURL
// accepts socks5, http and https schemes; an empty value means a direct
// connection. The timeout is the per-request ceiling, attempts carry their
// own context deadlines below it.
func NewHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy URL: %w", err)
		}
		switch u.Scheme {
		case "socks5", "socks5h":
			var auth *proxy.Auth
			if u.User != nil {
				auth = &proxy.Auth{User: u.User.Username()}
				auth.Password, _ = u.User.Password()
			}
			dialer, err := proxy.SOCKS5("tcp", u.Host, auth, &net.Dialer{Timeout: 30 * time.Second})
			if err != nil {
				return nil, fmt.Errorf("socks5 proxy: %w", err)
			}
			transport.Proxy = nil
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				transport.DialContext = cd.DialContext
			} else {
				return nil, fmt.Errorf("socks5 dialer does not support context dialing")
			}
			log.Debugf("routing requests through socks5 proxy %s", u.Host)
		case "http", "https":
			transport.Proxy = http.ProxyURL(u)
			log.Debugf("routing requests through http proxy %s", u.Host)
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}
