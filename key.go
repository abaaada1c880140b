// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package httppool

import (
	"strconv"
	"strings"
)

// RequestKey identifies a destination that connections are pooled against:
// the scheme, host and port a Connection was built for. RequestKey is a
// plain comparable struct, so it works as a map key without any custom
// Equals/HashCode machinery.
type RequestKey struct {
	Scheme string
	Host   string
	Port   string
}

// NewRequestKey builds a RequestKey from its three dimensions.
func NewRequestKey(scheme, host, port string) RequestKey {
	return RequestKey{Scheme: scheme, Host: host, Port: port}
}

// String returns the conventional scheme://host:port rendering of the key,
// useful for log messages and error text.
func (k RequestKey) String() string {
	if k.Port == "" {
		return k.Scheme + "://" + k.Host
	}
	return k.Scheme + "://" + k.Host + ":" + k.Port
}

// defaultPortFor returns the conventional port for a scheme when one isn't
// explicit, mirroring net/http's treatment of http/https.
func defaultPortFor(scheme string) string {
	switch scheme {
	case "https":
		return "443"
	case "http":
		return "80"
	default:
		return ""
	}
}

// NewRequestKeyFromAuthority builds a RequestKey from a scheme and a
// host[:port] authority, filling in the scheme's conventional port when
// none was given. An IPv6 literal host must use bracket syntax
// ("[::1]:8080"), exactly as net.JoinHostPort/net.SplitHostPort require: a
// bare authority containing more than one colon (e.g. "::1") is ambiguous
// between "host with no port" and "host:port", so it is kept whole as the
// host rather than misread as host=":" port="1".
func NewRequestKeyFromAuthority(scheme, authority string) RequestKey {
	if strings.HasPrefix(authority, "[") {
		if end := strings.IndexByte(authority, ']'); end >= 0 {
			host := authority[1:end]
			port := ""
			if rest := authority[end+1:]; strings.HasPrefix(rest, ":") {
				port = rest[1:]
			}
			if port == "" {
				port = defaultPortFor(scheme)
			}
			return RequestKey{Scheme: scheme, Host: host, Port: port}
		}
	}

	if strings.Count(authority, ":") == 1 {
		i := strings.IndexByte(authority, ':')
		if _, err := strconv.Atoi(authority[i+1:]); err == nil {
			return RequestKey{Scheme: scheme, Host: authority[:i], Port: authority[i+1:]}
		}
	}

	return RequestKey{Scheme: scheme, Host: authority, Port: defaultPortFor(scheme)}
}
