package analyzer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgrsutos/botsentry/internal/models"
)

// mustParseTime is a helper function to parse time in tests
func mustParseTime(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05 -0700", s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *models.LogEntry
		wantErr bool
	}{
		{
			name:  "custom format with country and response time",
			input: `203.0.113.7 - US - [10/Oct/2023:13:55:36 +0000] "GET /Admin/../login?next=/ HTTP/1.1" 403 512 "-" "curl/7.68.0" 42`,
			want: &models.LogEntry{
				IP:             "203.0.113.7",
				Country:        "US",
				Timestamp:      mustParseTime("2023-10-10 13:55:36 +0000"),
				Method:         "GET",
				Path:           "/admin/../login",
				StatusCode:     403,
				ResponseSize:   512,
				UserAgent:      "curl/7.68.0",
				ResponseTimeMs: 42,
				Format:         models.LogFormatCustom,
			},
		},
		{
			name:  "combined format",
			input: `192.168.1.10 - frank [10/Oct/2023:13:55:36 -0700] "POST //api//users HTTP/1.1" 201 2326 "http://example.com/" "Mozilla/5.0 (X11; Linux x86_64)"`,
			want: &models.LogEntry{
				IP:           "192.168.1.10",
				Country:      "XX",
				Timestamp:    mustParseTime("2023-10-10 20:55:36 +0000"),
				Method:       "POST",
				Path:         "/api/users",
				StatusCode:   201,
				ResponseSize: 2326,
				UserAgent:    "Mozilla/5.0 (X11; Linux x86_64)",
				Format:       models.LogFormatCombined,
			},
		},
		{
			name:  "common format with dash size",
			input: `10.0.0.1 - - [02/Jan/2024:00:00:01 +0100] "HEAD /Index.HTML HTTP/1.0" 304 -`,
			want: &models.LogEntry{
				IP:         "10.0.0.1",
				Country:    "XX",
				Timestamp:  mustParseTime("2024-01-01 23:00:01 +0000"),
				Method:     "HEAD",
				Path:       "/index.html",
				StatusCode: 304,
				UserAgent:  "Unknown",
				Format:     models.LogFormatCommon,
			},
		},
		{
			name:  "ipv6 source and percent encoded path",
			input: `2001:db8::1 - - [10/Oct/2023:13:55:36 +0000] "GET /My%20Files/ HTTP/1.1" 200 10 "-" "-"`,
			want: &models.LogEntry{
				IP:           "2001:db8::1",
				Country:      "XX",
				Timestamp:    mustParseTime("2023-10-10 13:55:36 +0000"),
				Method:       "GET",
				Path:         "/my files/",
				StatusCode:   200,
				ResponseSize: 10,
				UserAgent:    "Unknown",
				Format:       models.LogFormatCombined,
			},
		},
		{
			name:    "invalid IP",
			input:   `999.1.1.1 - - [10/Oct/2023:13:55:36 +0000] "GET / HTTP/1.1" 200 10`,
			wantErr: true,
		},
		{
			name:    "status out of range",
			input:   `10.0.0.1 - - [10/Oct/2023:13:55:36 +0000] "GET / HTTP/1.1" 700 10`,
			wantErr: true,
		},
		{
			name:    "unknown timestamp format",
			input:   `10.0.0.1 - - [Tuesday 10 October] "GET / HTTP/1.1" 200 10`,
			wantErr: true,
		},
		{
			name:    "truncated line",
			input:   `10.0.0.1 - - [10/Oct/2023:13:55:36 +0000] "GET /`,
			wantErr: true,
		},
		{
			name:    "random text",
			input:   `Random log entry that doesn't match any access log format`,
			wantErr: true,
		},
	}

	parser := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parser.ParseLine(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnparsableLine))
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLine_SkipsBlankAndComments(t *testing.T) {
	parser := NewParser()
	for _, line := range []string{"", "   ", "\n", "# Fields: ip date", "  #comment"} {
		entry, err := parser.ParseLine(line)
		assert.NoError(t, err, "line %q", line)
		assert.Nil(t, entry, "line %q", line)
	}
}

func TestParseLine_Idempotent(t *testing.T) {
	parser := NewParser()
	lines := []string{
		`203.0.113.7 - DE - [10/Oct/2023:13:55:36 +0000] "GET /a HTTP/1.1" 200 1 "-" "Wget/1.21" 3`,
		`192.168.1.10 - - [10/Oct/2023:13:55:36 -0700] "GET /b HTTP/1.1" 500 0 "-" "python-requests/2.31"`,
		`10.0.0.1 - - [10/Oct/2023:13:55:36] "GET /c HTTP/1.1" 200 7`,
	}

	for _, line := range lines {
		first, err := parser.ParseLine(line)
		require.NoError(t, err)
		second, err := parser.ParseLine(line)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"apache with zone", "10/Oct/2023:13:55:36 +0900", mustParseTime("2023-10-10 04:55:36 +0000"), false},
		{"apache without zone", "10/Oct/2023:13:55:36", mustParseTime("2023-10-10 13:55:36 +0000"), false},
		{"numeric month", "10/10/2023:13:55:36", mustParseTime("2023-10-10 13:55:36 +0000"), false},
		{"iso like", "2023-10-10 13:55:36", mustParseTime("2023-10-10 13:55:36 +0000"), false},
		{"numeric month with trailing offset", "10/10/2023:13:55:36 +0200", mustParseTime("2023-10-10 13:55:36 +0000"), false},
		{"iso like with trailing offset", "2023-10-10 13:55:36 -0500", mustParseTime("2023-10-10 13:55:36 +0000"), false},
		{"garbage", "yesterday", time.Time{}, true},
		{"garbage with offset", "yesterday +0000", time.Time{}, true},
	}

	parser := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parser.ParseTimestamp(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseReader(t *testing.T) {
	input := strings.Join([]string{
		"# access log",
		`10.0.0.1 - - [10/Oct/2023:13:55:36 +0000] "GET /a HTTP/1.1" 200 10`,
		"",
		"garbage line",
		`10.0.0.2 - - [10/Oct/2023:13:55:37 +0000] "GET /b HTTP/1.1" 404 0 "-" "bad` + "\xff" + `agent"`,
		`10.0.0.3 - - [10/Oct/2023:13:55:38 +0000] "GET /c HTTP/1.1" 200 10`,
	}, "\n")

	parser := NewParser()
	var entries []*models.LogEntry
	stats, err := parser.ParseReader(strings.NewReader(input), func(e *models.LogEntry) error {
		entries = append(entries, e)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, ParseStats{TotalLines: 6, Parsed: 3, Skipped: 2, Failed: 1}, stats)
	require.Len(t, entries, 3)
	assert.Equal(t, "badagent", entries[1].UserAgent)
	assert.Equal(t, "10.0.0.3", entries[2].IP, "last line without trailing newline is parsed")
}

func TestParseReader_LongLine(t *testing.T) {
	longPath := "/" + strings.Repeat("a", 200*1024)
	line := `10.0.0.1 - - [10/Oct/2023:13:55:36 +0000] "GET ` + longPath + ` HTTP/1.1" 200 10` + "\n"

	var got *models.LogEntry
	stats, err := NewParser().ParseReader(strings.NewReader(line), func(e *models.LogEntry) error {
		got = e
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Parsed)
	require.NotNil(t, got)
	assert.Equal(t, longPath, got.Path)
}

func TestParseReader_CallbackErrorStops(t *testing.T) {
	input := `10.0.0.1 - - [10/Oct/2023:13:55:36 +0000] "GET /a HTTP/1.1" 200 10
10.0.0.2 - - [10/Oct/2023:13:55:36 +0000] "GET /a HTTP/1.1" 200 10
`
	stop := errors.New("stop")
	calls := 0
	stats, err := NewParser().ParseReader(strings.NewReader(input), func(*models.LogEntry) error {
		calls++
		return stop
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, stats.Parsed)
}

func TestParseFile(t *testing.T) {
	t.Run("streams a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "access.log")
		content := `10.0.0.1 - - [10/Oct/2023:13:55:36 +0000] "GET /a HTTP/1.1" 200 10
not a log line
10.0.0.1 - - [10/Oct/2023:13:56:36 +0000] "GET /b HTTP/1.1" 200 10
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		count := 0
		stats, err := NewParser().ParseFile(path, func(*models.LogEntry) error {
			count++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.Equal(t, 1, stats.Failed)

		// restartable: a second pass yields the same result
		again, err := NewParser().ParseFile(path, func(*models.LogEntry) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, stats, again)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewParser().ParseFile(filepath.Join(t.TempDir(), "missing.log"), func(*models.LogEntry) error { return nil })
		assert.ErrorIs(t, err, ErrUnreadableFile)
	})
}

func TestDetectFormat(t *testing.T) {
	combined := `192.168.1.10 - - [10/Oct/2023:13:55:36 +0000] "GET / HTTP/1.1" 200 1 "-" "Mozilla/5.0"`
	common := `10.0.0.1 - - [10/Oct/2023:13:55:36 +0000] "GET / HTTP/1.1" 200 1`

	t.Run("majority grammar wins", func(t *testing.T) {
		lines := []string{combined, combined, combined, common, "broken", "# comment", ""}
		report := NewParser().DetectFormat(lines, 100)

		assert.Equal(t, models.LogFormatCombined, report.Format)
		assert.Equal(t, 5, report.TotalLines)
		assert.Equal(t, 4, report.Parsed)
		assert.Equal(t, 1, report.Failed)
		assert.InDelta(t, 0.6, report.Confidence, 1e-9)
		assert.InDelta(t, 0.8, report.SuccessRate, 1e-9)
		assert.Equal(t, []string{"broken"}, report.FailureSamples)
	})

	t.Run("failure samples are capped", func(t *testing.T) {
		lines := make([]string, 20)
		for i := range lines {
			lines[i] = "broken"
		}
		report := NewParser().DetectFormat(lines, 100)
		assert.Equal(t, models.LogFormatUnknown, report.Format)
		assert.Len(t, report.FailureSamples, 5)
		assert.Equal(t, 0.0, report.Confidence)
	})

	t.Run("sample size limits inspected lines", func(t *testing.T) {
		lines := []string{common, common, "broken", "broken"}
		report := NewParser().DetectFormat(lines, 2)
		assert.Equal(t, 2, report.TotalLines)
		assert.Equal(t, 1.0, report.SuccessRate)
	})

	t.Run("empty sample", func(t *testing.T) {
		report := NewParser().DetectFormat(nil, 100)
		assert.Equal(t, models.LogFormatUnknown, report.Format)
		assert.Equal(t, 0, report.TotalLines)
	})
}

func TestDetectFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString(`10.0.0.1 - US - [10/Oct/2023:13:55:36 +0000] "GET / HTTP/1.1" 200 1 "-" "curl/8.0" 5` + "\n")
	}
	b.WriteString("broken\n")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))

	report, err := NewParser().DetectFileFormat(path, 10)
	require.NoError(t, err)
	assert.Equal(t, models.LogFormatCustom, report.Format)
	assert.Equal(t, 1.0, report.Confidence)

	_, err = NewParser().DetectFileFormat(filepath.Join(t.TempDir(), "none.log"), 10)
	assert.ErrorIs(t, err, ErrUnreadableFile)
}
