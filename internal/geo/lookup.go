// Package geo resolves source IPs to ISO country codes.
package geo

import (
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// UnknownCountry is returned when no country can be determined
const UnknownCountry = "XX"

// CountryLookup resolves an IP address to a two letter country code
type CountryLookup interface {
	LookupCountry(ip string) string
}

// NoopLookup resolves every address to UnknownCountry
type NoopLookup struct{}

// LookupCountry always returns UnknownCountry
func (NoopLookup) LookupCountry(string) string {
	return UnknownCountry
}

// countryReader is the subset of *geoip2.Reader used by GeoIPLookup
type countryReader interface {
	Country(ip net.IP) (*geoip2.Country, error)
	Close() error
}

// GeoIPLookup resolves countries from a MaxMind GeoIP2 or GeoLite2 database
type GeoIPLookup struct {
	reader countryReader
}

// OpenGeoIP opens the MaxMind database at path
func OpenGeoIP(path string) (*GeoIPLookup, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database %s: %w", path, err)
	}
	return &GeoIPLookup{reader: reader}, nil
}

// LookupCountry returns the ISO code of ip, UnknownCountry if the address is
// invalid or not in the database
func (g *GeoIPLookup) LookupCountry(ip string) string {
	addr := net.ParseIP(ip)
	if addr == nil {
		return UnknownCountry
	}

	record, err := g.reader.Country(addr)
	if err != nil || record == nil || record.Country.IsoCode == "" {
		return UnknownCountry
	}
	return strings.ToUpper(record.Country.IsoCode)
}

// Close releases the database
func (g *GeoIPLookup) Close() error {
	return g.reader.Close()
}
