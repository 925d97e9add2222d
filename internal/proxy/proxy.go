// Package proxy loads outbound proxy credentials and rotates across them.
package proxy

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Entry holds one outbound proxy identity.
type Entry struct {
	Host     string
	Port     int
	Username string
	Password string
}

// URL renders the entry as an http proxy URL with embedded credentials.
func (e Entry) URL() *url.URL {
	u := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", e.Host, e.Port),
	}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u
}

// Addr returns the host:port form without credentials, safe for logging.
func (e Entry) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// ParseEntry parses one "ip:port:username:password" record.
func ParseEntry(raw string) (Entry, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 4 {
		return Entry{}, fmt.Errorf("expected ip:port:username:password, got %d fields", len(parts))
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port <= 0 || port > 65535 {
		return Entry{}, fmt.Errorf("invalid port %q", parts[1])
	}
	if parts[0] == "" {
		return Entry{}, fmt.Errorf("empty host")
	}
	return Entry{
		Host:     parts[0],
		Port:     port,
		Username: parts[2],
		Password: parts[3],
	}, nil
}

// LoadFile reads newline-delimited proxy records from path. Blank lines are
// skipped. Any malformed record aborts the whole load; a partial list is
// never returned.
func LoadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open proxy file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := ParseEntry(line)
		if err != nil {
			return nil, fmt.Errorf("proxy file %s line %d: %w", path, lineNo, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read proxy file: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("proxy file %s contains no entries", path)
	}
	return entries, nil
}
