package app

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

// probeEndpoint dials the host behind rawURL once. It only tells whether
// something is listening; credentials are checked on the first completion.
func probeEndpoint(rawURL string, timeout time.Duration) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return err
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("endpoint has no host")
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	c, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), timeout)
	if err != nil {
		return err
	}
	_ = c.Close()
	return nil
}
