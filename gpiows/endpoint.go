package gpiows

import (
	"net/url"
	"strconv"
	"strings"
)

// Endpoint is the immutable address of a GPIO WebSocket server. It is parsed
// once at client construction and reused across reconnect attempts.
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
	Path   string
}

// ParseEndpoint parses a ws:// or wss:// URI into an Endpoint. Any other
// scheme, or an unparseable URI, fails with InvalidURIError.
func ParseEndpoint(rawURL string) (Endpoint, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Endpoint{}, NewError(InvalidURIError, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return Endpoint{}, NewError(InvalidURIError, "scheme must be ws or wss, got "+parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return Endpoint{}, NewError(InvalidURIError, "missing host in "+rawURL)
	}

	port := 80
	if scheme == "wss" {
		port = 443
	}
	if rawPort := parsed.Port(); rawPort != "" {
		parsedPort, portErr := strconv.Atoi(rawPort)
		if portErr != nil || parsedPort < 1 || parsedPort > 65535 {
			return Endpoint{}, NewError(InvalidURIError, "invalid port "+rawPort)
		}
		port = parsedPort
	}

	return Endpoint{
		Scheme: scheme,
		Host:   parsed.Hostname(),
		Port:   port,
		Path:   parsed.Path,
	}, nil
}

// Secure reports whether the endpoint uses TLS.
func (endpoint Endpoint) Secure() bool {
	return endpoint.Scheme == "wss"
}

// URL renders the endpoint back into a dialable URI.
func (endpoint Endpoint) URL() string {
	return endpoint.Scheme + "://" + endpoint.Host + ":" + strconv.Itoa(endpoint.Port) + endpoint.Path
}
