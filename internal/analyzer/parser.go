package analyzer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kgrsutos/botsentry/internal/models"
)

var (
	// Regular expressions for the supported access log grammars, tried in this order.
	// custom:   IP - COUNTRY - [TS] "METHOD PATH HTTP/x" STATUS SIZE "REFERER" "UA" RESPONSE_MS
	// combined: IP IDENT USER [TS] "METHOD PATH PROTO" STATUS SIZE "REFERER" "UA"
	// common:   IP IDENT USER [TS] "METHOD PATH PROTO" STATUS SIZE
	customLogRegex   = regexp.MustCompile(`^(\S+) - (\S+) - \[([^\]]+)\] "(\S+) ([^"]*) HTTP/[\d.]+"\s+(\d+)\s+(\d+|-)\s+"([^"]*)"\s+"([^"]*)"\s+(\d+)$`)
	combinedLogRegex = regexp.MustCompile(`^(\S+) \S+ \S+ \[([^\]]+)\] "(\S+) ([^"]*) \S+" (\d+) (\d+|-) "([^"]*)" "([^"]*)"`)
	commonLogRegex   = regexp.MustCompile(`^(\S+) \S+ \S+ \[([^\]]+)\] "(\S+) ([^"]*) \S+" (\d+) (\d+|-)`)

	trailingOffsetRegex = regexp.MustCompile(`\s*[+-]\d{4}$`)

	grammars = []struct {
		format models.LogFormat
		regex  *regexp.Regexp
	}{
		{models.LogFormatCustom, customLogRegex},
		{models.LogFormatCombined, combinedLogRegex},
		{models.LogFormatCommon, commonLogRegex},
	}
)

// Timestamp layouts tried in order
const (
	layoutApacheZone  = "2/Jan/2006:15:04:05 -0700"
	layoutApache      = "2/Jan/2006:15:04:05"
	layoutNumericDate = "2/1/2006:15:04:05"
	layoutISOLike     = "2006-1-2 15:04:05"
)

var (
	timestampLayouts  = []string{layoutApacheZone, layoutApache, layoutNumericDate, layoutISOLike}
	offsetFreeLayouts = []string{layoutApache, layoutNumericDate, layoutISOLike}
)

// ParseStats counts what happened to the lines of one input
type ParseStats struct {
	TotalLines int `json:"total_lines"`
	Parsed     int `json:"parsed"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Parser handles parsing of web server access log lines
type Parser struct {
	normalizer *Normalizer
}

// NewParser creates a new Parser instance
func NewParser() *Parser {
	return &Parser{
		normalizer: NewNormalizer(),
	}
}

// ParseLine parses a single log line. Blank lines and lines starting with '#'
// return (nil, nil). Lines matching no grammar return ErrUnparsableLine.
func (p *Parser) ParseLine(line string) (*models.LogEntry, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}

	var lastErr error
	for _, g := range grammars {
		matches := g.regex.FindStringSubmatch(line)
		if matches == nil {
			continue
		}
		entry, err := p.buildEntry(g.format, matches)
		if err == nil {
			return entry, nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsableLine, lastErr)
	}
	return nil, fmt.Errorf("%w: no grammar matched", ErrUnparsableLine)
}

// buildEntry converts regex groups into a validated LogEntry
func (p *Parser) buildEntry(format models.LogFormat, m []string) (*models.LogEntry, error) {
	var (
		ip, country, ts, method, path, status, size, userAgent, responseTime string
	)

	switch format {
	case models.LogFormatCustom:
		ip, country, ts, method, path, status, size, userAgent, responseTime = m[1], m[2], m[3], m[4], m[5], m[6], m[7], m[9], m[10]
	case models.LogFormatCombined:
		ip, ts, method, path, status, size, userAgent = m[1], m[2], m[3], m[4], m[5], m[6], m[8]
	default:
		ip, ts, method, path, status, size = m[1], m[2], m[3], m[4], m[5], m[6]
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil, fmt.Errorf("invalid IP address %q", ip)
	}

	timestamp, err := p.ParseTimestamp(ts)
	if err != nil {
		return nil, err
	}

	normalizedMethod, ok := p.normalizer.NormalizeMethod(method)
	if !ok {
		return nil, fmt.Errorf("invalid HTTP method %q", method)
	}

	statusCode, err := strconv.Atoi(status)
	if err != nil || statusCode < 100 || statusCode > 599 {
		return nil, fmt.Errorf("invalid status code %q", status)
	}

	var responseSize int64
	if size != "-" {
		responseSize, err = strconv.ParseInt(size, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid response size %q", size)
		}
	}

	var responseTimeMs int64
	if responseTime != "" {
		responseTimeMs, err = strconv.ParseInt(responseTime, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid response time %q", responseTime)
		}
	}

	return &models.LogEntry{
		IP:             addr.Unmap().String(),
		Country:        p.normalizer.NormalizeCountry(country),
		Timestamp:      timestamp,
		Method:         normalizedMethod,
		Path:           p.normalizer.NormalizePath(path),
		StatusCode:     statusCode,
		ResponseSize:   responseSize,
		UserAgent:      p.normalizer.SanitizeUserAgent(userAgent),
		ResponseTimeMs: responseTimeMs,
		Format:         format,
	}, nil
}

// ParseTimestamp parses an access log timestamp. Zoned timestamps are
// converted to UTC; timestamps without zone are taken as UTC.
func (p *Parser) ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}

	// An offset the layouts above could not take: drop it and retry once
	if trailingOffsetRegex.MatchString(value) {
		stripped := trailingOffsetRegex.ReplaceAllString(value, "")
		for _, layout := range offsetFreeLayouts {
			if t, err := time.Parse(layout, stripped); err == nil {
				return t.UTC(), nil
			}
		}
	}

	return time.Time{}, fmt.Errorf("unknown timestamp format %q", value)
}

// ParseReader streams entries from r to fn, one line at a time. Unparsable
// lines are counted and dropped; invalid UTF-8 bytes are removed. An error
// returned by fn stops the scan and is returned as is.
func (p *Parser) ParseReader(r io.Reader, fn func(*models.LogEntry) error) (ParseStats, error) {
	var stats ParseStats
	reader := bufio.NewReaderSize(r, 64*1024)

	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			stats.TotalLines++
			entry, err := p.ParseLine(strings.ToValidUTF8(line, ""))
			switch {
			case err != nil:
				stats.Failed++
				slog.Debug("Skipping unparsable line", "line", stats.TotalLines, "error", err)
			case entry == nil:
				stats.Skipped++
			default:
				stats.Parsed++
				if err := fn(entry); err != nil {
					return stats, err
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return stats, nil
			}
			return stats, fmt.Errorf("%w: %v", ErrUnreadableFile, readErr)
		}
	}
}

// ParseFile opens path and streams its entries to fn. The file is closed on every return path.
func (p *Parser) ParseFile(path string, fn func(*models.LogEntry) error) (ParseStats, error) {
	file, err := os.Open(path)
	if err != nil {
		return ParseStats{}, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	defer file.Close()

	stats, err := p.ParseReader(file, fn)
	if err != nil {
		return stats, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return stats, nil
}
