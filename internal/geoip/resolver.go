// Package geoip resolves client addresses to ISO country codes using a
// MaxMind GeoLite2/GeoIP2 country database.
package geoip

import (
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"

	"github.com/Wikid82/cerberus/internal/logger"
)

// Resolver looks up countries in a MaxMind database. It is safe for
// concurrent use.
type Resolver struct {
	reader *geoip2.Reader
}

// Open loads the database at path.
func Open(path string) (*Resolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &Resolver{reader: reader}, nil
}

// Country returns the upper-case ISO code for ip, or "" for private,
// unparseable or unknown addresses.
func (r *Resolver) Country(ip string) string {
	if r == nil || r.reader == nil {
		return ""
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsUnspecified() {
		return ""
	}
	record, err := r.reader.Country(parsed)
	if err != nil {
		logger.Component("geoip").WithError(err).Debug("Country lookup failed")
		return ""
	}
	return strings.ToUpper(record.Country.IsoCode)
}

// Close releases the database.
func (r *Resolver) Close() error {
	if r == nil || r.reader == nil {
		return nil
	}
	return r.reader.Close()
}
