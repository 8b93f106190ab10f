package transport

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is used when an endpoint URI omits an explicit port.
const DefaultPort = 2200

// Endpoint is an addressable queue location: <scheme>://<host>:<port>/<queue>[;subqueue=<sub>].
type Endpoint struct {
	Scheme   string
	Host     string
	Port     int
	Queue    string
	SubQueue string
}

// String renders the endpoint back to its URI form.
func (e Endpoint) String() string {
	base := fmt.Sprintf("%s://%s:%d/%s", e.Scheme, e.Host, e.Port, e.Queue)
	if e.SubQueue != "" {
		base += ";subqueue=" + e.SubQueue
	}
	return base
}

// IsZero reports whether the endpoint carries no address.
func (e Endpoint) IsZero() bool {
	return e.Scheme == "" && e.Host == "" && e.Queue == ""
}

// ParseEndpoint parses an endpoint URI of the form
// <scheme>://<host>:<port>/<queue>[;subqueue=<sub>]. Port defaults to
// DefaultPort when unspecified.
func ParseEndpoint(raw string) (Endpoint, error) {
	if raw == "" {
		return Endpoint{}, nil
	}

	queuePart := raw
	subQueue := ""
	if idx := strings.Index(raw, ";"); idx >= 0 {
		queuePart = raw[:idx]
		for _, part := range strings.Split(raw[idx+1:], ";") {
			kv := strings.SplitN(part, "=", 2)
			if len(kv) == 2 && strings.EqualFold(strings.TrimSpace(kv[0]), "subqueue") {
				subQueue = strings.TrimSpace(kv[1])
			}
		}
	}

	u, err := url.Parse(queuePart)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrUnknownEndpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnknownEndpoint, raw)
	}

	port := DefaultPort
	host := u.Hostname()
	if p := u.Port(); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return Endpoint{}, fmt.Errorf("%w: invalid port in %q", ErrUnknownEndpoint, raw)
		}
		port = parsed
	}

	queue := strings.TrimPrefix(u.Path, "/")

	return Endpoint{
		Scheme:   u.Scheme,
		Host:     host,
		Port:     port,
		Queue:    queue,
		SubQueue: subQueue,
	}, nil
}
