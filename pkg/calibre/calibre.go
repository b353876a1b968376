// Package calibre wraps the Calibre command-line tools that do the actual
// metadata and cover extraction. The ingestion coordinator only depends on
// the Extractor interface, so tests substitute a deterministic fake instead
// of shelling out.
package calibre

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

// ErrNoCover distinguishes "the book simply has no cover" from a failed
// extraction. Ingestion treats both as non-fatal but logs them differently.
var ErrNoCover = errors.New("no cover found")

// Metadata is the record ebook-meta produces for a single book.
type Metadata struct {
	Title             string   `json:"title"`
	Authors           []string `json:"authors"`
	Series            string   `json:"series"`
	ExternalCalibreID *string  `json:"calibre_id"`
}

type Extractor interface {
	// ExtractMetadata reads the descriptive metadata of the ebook at path.
	ExtractMetadata(ctx context.Context, path string) (*Metadata, error)
	// ExtractCover writes the embedded cover image to
	// <outputDir>/<baseName>_cover.jpg and returns that path. It returns
	// ErrNoCover when the book has no embedded cover.
	ExtractCover(ctx context.Context, path, outputDir, baseName string) (string, error)
}

// CLI invokes the ebook-meta binary.
type CLI struct {
	binary string
}

func NewCLI() *CLI {
	return &CLI{binary: "ebook-meta"}
}

func (c *CLI) ExtractMetadata(ctx context.Context, path string) (*Metadata, error) {
	cmd := exec.CommandContext(ctx, c.binary, path, "--to-json")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "ebook-meta failed for %s: %s", path, stderr.String())
	}

	return parseMetadata(stdout.Bytes())
}

// parseMetadata decodes ebook-meta's --to-json output, which is a JSON array
// holding one record per input file.
func parseMetadata(out []byte) (*Metadata, error) {
	var records []Metadata
	if err := json.Unmarshal(out, &records); err != nil {
		return nil, errors.Wrap(err, "failed to parse ebook-meta output")
	}
	if len(records) == 0 {
		return nil, errors.New("ebook-meta produced no metadata record")
	}

	meta := records[0]
	if meta.Title == "" {
		return nil, errors.New("ebook-meta record has no title")
	}
	return &meta, nil
}

func (c *CLI) ExtractCover(ctx context.Context, path, outputDir, baseName string) (string, error) {
	coverPath := filepath.Join(outputDir, baseName+"_cover.jpg")

	cmd := exec.CommandContext(ctx, c.binary, path, "--get-cover", coverPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if isNoCover(stderr.String()) {
			return "", ErrNoCover
		}
		return "", errors.Wrapf(err, "failed to extract cover for %s: %s", path, stderr.String())
	}

	return coverPath, nil
}

func isNoCover(stderr string) bool {
	return strings.Contains(stderr, "No cover found")
}
