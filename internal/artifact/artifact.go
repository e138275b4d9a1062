// Package artifact persists crawl output as an intermediate snapshot that the
// loader can replay later.
package artifact

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/hcpcs-cli/internal/model"
)

// Format is an artifact encoding.
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
)

// Prefix starts every artifact file name.
const Prefix = "hcpcs_"

// timestampLayout sorts lexically in chronological order.
const timestampLayout = "20060102T150405Z"

// ParseFormat validates a format name. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	default:
		return "", eris.Errorf("artifact: unknown format %q", s)
	}
}

// Ext returns the file extension for the format, including the dot.
func (f Format) Ext() string {
	if f == YAML {
		return ".yaml"
	}
	return ".json"
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	default:
		return JSON
	}
}

// FileName returns the artifact name for a crawl started at t.
func FileName(t time.Time, f Format) string {
	return Prefix + t.UTC().Format(timestampLayout) + f.Ext()
}

// Write encodes records to dir/FileName(t, f) and returns the path. The file
// is written to a temp name first and renamed into place, so a reader never
// sees a partial artifact.
func Write(dir string, t time.Time, f Format, records []model.ScrapedRecord) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "artifact: create dir %s", dir)
	}

	data, err := Encode(f, records)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, FileName(t, f))
	tmp, err := os.CreateTemp(dir, ".hcpcs-*.tmp")
	if err != nil {
		return "", eris.Wrap(err, "artifact: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return "", eris.Wrap(err, "artifact: write")
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrap(err, "artifact: close")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", eris.Wrapf(err, "artifact: rename to %s", path)
	}

	zap.L().Info("artifact written",
		zap.String("component", "artifact"),
		zap.String("path", path),
		zap.Int("records", len(records)),
	)
	return path, nil
}

// Encode serializes records in the given format.
func Encode(f Format, records []model.ScrapedRecord) ([]byte, error) {
	if records == nil {
		records = []model.ScrapedRecord{}
	}
	switch f {
	case YAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return nil, eris.Wrap(err, "artifact: encode yaml")
		}
		if err := enc.Close(); err != nil {
			return nil, eris.Wrap(err, "artifact: encode yaml")
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return nil, eris.Wrap(err, "artifact: encode json")
		}
		return append(data, '\n'), nil
	}
}

// Read decodes an artifact file, choosing the format by extension.
func Read(path string) ([]model.ScrapedRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: read %s", path)
	}
	records, err := Decode(FormatFromPath(path), data)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: %s", path)
	}
	return records, nil
}

// Decode parses artifact bytes in the given format.
func Decode(f Format, data []byte) ([]model.ScrapedRecord, error) {
	var records []model.ScrapedRecord
	switch f {
	case YAML:
		if err := yaml.Unmarshal(data, &records); err != nil {
			return nil, eris.Wrap(err, "artifact: decode yaml")
		}
	default:
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, eris.Wrap(err, "artifact: decode json")
		}
	}
	return records, nil
}

// List returns the artifact files in dir in name order, which is crawl order.
// A missing dir yields no files.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: list %s", dir)
	}

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, Prefix) {
			continue
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".json", ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
