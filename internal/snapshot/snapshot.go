// Package snapshot persists the Store's committed (version, document) pair
// to a timestamped file directory, and reloads the newest one at startup.
//
// Grounded on original_source/lighthouse/data.py's DATA_DIR_GLOB /
// DATA_DIR_STRFTIME filename format and main.py's load-on-startup flow.
package snapshot

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rapid7/lighthouse/internal/document"
	"github.com/rapid7/lighthouse/internal/version"
)

// filenameLayout is Go's reference-time spelling of
// YYYYMMDDTHHMMSS.ffffff.json.
const filenameLayout = "20060102T150405.000000"

const fileSuffix = ".json"

// file is the on-disk shape: {"version": {...}, "data": <document>}.
type file struct {
	Version version.Version `json:"version"`
	Data    document.Value  `json:"data"`
}

func (f file) MarshalJSON() ([]byte, error) {
	data, err := document.MarshalValue(f.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(`{"version":{"sequence":%d,"checksum":%q},"data":%s}`,
		f.Version.Sequence, f.Version.Checksum, data)), nil
}

// Write serialises (v, d) to a new timestamped file in dir using
// write-then-rename so a concurrent reader never observes a partial file,
// and never overwrites an existing name.
func Write(dir string, v version.Version, d *document.Document) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := timestampName(time.Now())
	target := filepath.Join(dir, name)
	for fileExists(target) {
		// Sub-microsecond collision: append a short random suffix rather
		// than overwrite (spec.md §4.3: "never overwrite an existing
		// filename").
		target = filepath.Join(dir, strings.TrimSuffix(name, fileSuffix)+
			fmt.Sprintf("-%04x", rand.Intn(1<<16))+fileSuffix)
	}

	tmp := target + ".tmp"
	b, err := json.Marshal(file{Version: v, Data: d.Root})
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return target, nil
}

func timestampName(t time.Time) string {
	return t.UTC().Format(filenameLayout) + fileSuffix
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Load enumerates dir, sorts filenames descending (lexicographic order
// matches chronological order for this filename format), and tries each
// until one parses. If the newest filename is older than loadLimit, Load
// refuses and reports ok=false so the caller can enter Unavailable mode.
func Load(dir string, loadLimit time.Time) (v version.Version, d *document.Document, ok bool) {
	names, err := filepath.Glob(filepath.Join(dir, "*"+fileSuffix))
	if err != nil || len(names) == 0 {
		return version.Zero, nil, false
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	newest := filepath.Base(names[0])
	ts, err := parseTimestamp(newest)
	if err == nil && ts.Before(loadLimit) {
		return version.Zero, nil, false
	}

	for _, name := range names {
		b, err := os.ReadFile(name)
		if err != nil {
			continue
		}
		var f struct {
			Version version.Version `json:"version"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(b, &f); err != nil {
			continue
		}
		val, err := document.ParseValue(f.Data)
		if err != nil {
			continue
		}
		return f.Version, &document.Document{Root: val}, true
	}
	return version.Zero, nil, false
}

func parseTimestamp(name string) (time.Time, error) {
	base := strings.TrimSuffix(name, fileSuffix)
	return time.Parse(filenameLayout, base)
}

// Prune deletes every snapshot file in dir older than rmLimit. Per
// spec.md §9's Open Question resolution, this actually removes files
// rather than only logging them.
func Prune(dir string, rmLimit time.Time) (removed int, err error) {
	names, globErr := filepath.Glob(filepath.Join(dir, "*"+fileSuffix))
	if globErr != nil {
		return 0, globErr
	}
	for _, name := range names {
		ts, err := parseTimestamp(filepath.Base(name))
		if err != nil {
			continue
		}
		if ts.Before(rmLimit) {
			if err := os.Remove(name); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
