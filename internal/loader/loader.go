// Package loader turns local paths into gateway uploads. File contents are
// opened lazily at submission time; only the small amount needed to sniff a
// type, a PDF page count or an HTML title is read up front.
package loader

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/clinicdocs/docgate/internal/gateway"
)

const (
	defaultConcurrency = 4
	// DefaultMaxFileSize is the largest local file Load accepts by default.
	DefaultMaxFileSize = 50 << 20
	sniffLen           = 512
)

// Options controls Load.
type Options struct {
	// Metadata is copied into every upload before sniffed fields are added.
	Metadata    map[string]any
	Concurrency int
	MaxFileSize int64
	Logger      *slog.Logger
}

// Expand replaces directories in paths with the regular files beneath them,
// skipping dotfiles. Order is preserved and each directory is walked in
// lexical order.
func Expand(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			hidden := strings.HasPrefix(d.Name(), ".") && path != p
			if d.IsDir() {
				if hidden {
					return filepath.SkipDir
				}
				return nil
			}
			if !hidden && d.Type().IsRegular() {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", p, err)
		}
	}
	return out, nil
}

// Load stats and sniffs every path concurrently and returns one upload per
// path in input order. A missing, oversized or non-regular file fails the
// whole load; a file whose type sniffing fails is still returned.
func Load(ctx context.Context, paths []string, opts Options) ([]gateway.FileUpload, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	uploads := make([]gateway.FileUpload, len(paths))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i, path := range paths {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			up, err := loadOne(path, opts, logger)
			if err != nil {
				return err
			}
			uploads[i] = up
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return uploads, nil
}

func loadOne(path string, opts Options, logger *slog.Logger) (gateway.FileUpload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return gateway.FileUpload{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return gateway.FileUpload{}, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > opts.MaxFileSize {
		return gateway.FileUpload{}, fmt.Errorf("%s is %d bytes, limit is %d", path, info.Size(), opts.MaxFileSize)
	}

	meta := make(map[string]any, len(opts.Metadata)+3)
	maps.Copy(meta, opts.Metadata)
	meta["size"] = info.Size()

	mimeType, err := sniff(path, info.Size(), meta)
	if err != nil {
		logger.Debug("sniffing failed", "path", path, "error", err)
	}

	return gateway.FileUpload{
		Name:     filepath.Base(path),
		Open:     func() (io.ReadCloser, error) { return os.Open(path) },
		MIMEType: mimeType,
		Metadata: meta,
	}, nil
}

// sniff detects the MIME type and adds type-specific fields to meta. The
// type falls back to the extension when content detection is inconclusive.
func sniff(path string, size int64, meta map[string]any) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	mimeType := detectType(filepath.Ext(path), head[:n])

	switch baseType(mimeType) {
	case "application/pdf":
		pages, err := pdfPages(f, size)
		if err != nil {
			return mimeType, err
		}
		meta["pages"] = pages
	case "text/html":
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return mimeType, err
		}
		if title := htmlTitle(f); title != "" {
			meta["title"] = title
		}
	}
	return mimeType, nil
}

func detectType(ext string, head []byte) string {
	if t := typeByExtension(ext); t != "" {
		return t
	}
	if len(head) == 0 {
		return ""
	}
	t := http.DetectContentType(head)
	if t == "application/octet-stream" {
		return ""
	}
	return t
}

func baseType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(strings.ToLower(t))
}
