package util

import (
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// SetProxy configures an outbound proxy on the given HTTP client based on the
// supplied proxy URL. Supports socks5, http, and https schemes. An empty URL
// leaves the client untouched.
//
// Parameters:
//   - proxyURL: The proxy URL, for example "socks5://host:1080"
//   - httpClient: The HTTP client to configure
//
// Returns:
//   - *http.Client: The configured HTTP client
func SetProxy(proxyURL string, httpClient *http.Client) *http.Client {
	if proxyURL == "" {
		return httpClient
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		log.Errorf("parse proxy url failed: %v", err)
		return httpClient
	}

	var transport *http.Transport
	switch parsed.Scheme {
	case "socks5":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		dialer, errDialer := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if errDialer != nil {
			log.Errorf("create socks5 dialer failed: %v", errDialer)
			return httpClient
		}
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport = &http.Transport{DialContext: contextDialer.DialContext}
		} else {
			log.Error("socks5 dialer does not support context dialing")
			return httpClient
		}
	case "http", "https":
		transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
	default:
		log.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
		return httpClient
	}

	httpClient.Transport = transport
	return httpClient
}
