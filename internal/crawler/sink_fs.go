package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FileSystemSink saves page content and metadata to disk, one pair of files
// per crawl result.
type FileSystemSink struct {
	root   string
	logger *zap.Logger
}

// resultMeta is the metadata JSON written next to each content file.
type resultMeta struct {
	URL         string    `json:"url"`
	Depth       int       `json:"depth"`
	ContentType string    `json:"content_type"`
	ContentHash string    `json:"content_hash"`
	Links       []string  `json:"links"`
	Proxy       string    `json:"proxy"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// NewFileSystemSink returns a sink rooted at dir, creating it if needed.
func NewFileSystemSink(root string, logger *zap.Logger) (*FileSystemSink, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create sink dir %s: %w", root, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSystemSink{root: root, logger: logger}, nil
}

// Write persists one result: the page text as markdown plus a metadata JSON.
func (s *FileSystemSink) Write(ctx context.Context, res Result) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	base := safeBasename(res.URL)
	contentPath := filepath.Join(s.root, base+".md")
	if err := os.WriteFile(contentPath, []byte(res.Content), 0o600); err != nil {
		return fmt.Errorf("write content %s: %w", contentPath, err)
	}

	sum := sha256.Sum256([]byte(res.Content))
	meta := resultMeta{
		URL:         res.URL,
		Depth:       res.Depth,
		ContentType: res.ContentType,
		ContentHash: hex.EncodeToString(sum[:]),
		Links:       res.Links,
		Proxy:       res.Proxy.Addr(),
		FetchedAt:   res.FetchedAt,
	}
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	metaPath := filepath.Join(s.root, base+".json")
	if err := os.WriteFile(metaPath, payload, 0o600); err != nil {
		return fmt.Errorf("write metadata %s: %w", metaPath, err)
	}

	s.logger.Debug("result saved",
		zap.String("url", res.URL),
		zap.String("path", contentPath),
	)
	return nil
}

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// safeBasename derives a filesystem-safe, collision-resistant base name from
// a URL.
func safeBasename(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return hashURL(raw)
	}
	host := invalidFilenameChars.ReplaceAllString(u.Hostname(), "_")
	p := strings.Trim(u.EscapedPath(), "/")
	if p == "" {
		p = "root"
	}
	p = invalidFilenameChars.ReplaceAllString(p, "_")
	return fmt.Sprintf("%s_%s_%s", host, p, hashURL(raw)[:16])
}

func hashURL(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
