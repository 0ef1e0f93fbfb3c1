package analyzer

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/kgrsutos/botsentry/internal/config"
	"github.com/kgrsutos/botsentry/internal/models"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// entry builds a log entry with sensible defaults
func entry(ip string, offset time.Duration, path string, status int, userAgent string) *models.LogEntry {
	return &models.LogEntry{
		IP:             ip,
		Country:        "US",
		Timestamp:      baseTime.Add(offset),
		Method:         "GET",
		Path:           path,
		StatusCode:     status,
		ResponseSize:   512,
		UserAgent:      userAgent,
		ResponseTimeMs: 250,
		Format:         models.LogFormatCustom,
	}
}

// burst builds n entries from ip spread evenly over span
func burst(ip string, n int, span time.Duration, path string, status int, userAgent string) []*models.LogEntry {
	entries := make([]*models.LogEntry, 0, n)
	for i := 0; i < n; i++ {
		var offset time.Duration
		if n > 1 {
			offset = span * time.Duration(i) / time.Duration(n-1)
		}
		entries = append(entries, entry(ip, offset, path, status, userAgent))
	}
	return entries
}

// fakeEntries generates n random entries from a small pool of sources
func fakeEntries(faker *gofakeit.Faker, n int) []*models.LogEntry {
	ips := make([]string, 8)
	for i := range ips {
		ips[i] = faker.IPv4Address()
	}
	paths := append([]string{"/", "/index.html", "/login", "/api/items"}, config.DefaultSuspiciousPaths()[:4]...)

	entries := make([]*models.LogEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, &models.LogEntry{
			IP:             faker.RandomString(ips),
			Country:        faker.CountryAbr(),
			Timestamp:      baseTime.Add(time.Duration(faker.Number(0, 7200)) * time.Second),
			Method:         faker.HTTPMethod(),
			Path:           faker.RandomString(paths),
			StatusCode:     faker.HTTPStatusCodeSimple(),
			ResponseSize:   int64(faker.Number(0, 10000)),
			UserAgent:      faker.UserAgent(),
			ResponseTimeMs: int64(faker.Number(1, 2000)),
			Format:         models.LogFormatCombined,
		})
	}
	return entries
}
