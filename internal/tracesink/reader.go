// internal/tracesink/reader.go
package tracesink

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/mwiater/qosflow/internal/schema"
)

// ArchiveSuffix is appended to archived trace files.
const ArchiveSuffix = ".zst"

const maxTraceLine = 16 << 20

// ReadFile loads every record from a .jsonl or .jsonl.zst trace file.
func ReadFile(path string) ([]schema.TraceRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace %q: %w", path, err)
	}
	defer file.Close()

	var src io.Reader = file
	if strings.HasSuffix(path, ArchiveSuffix) {
		dec, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("open zstd trace %q: %w", path, err)
		}
		defer dec.Close()
		src = dec
	}
	records, err := Decode(src)
	if err != nil {
		return nil, fmt.Errorf("trace %q: %w", path, err)
	}
	return records, nil
}

// Decode reads JSON Lines records from r, skipping blank lines.
func Decode(r io.Reader) ([]schema.TraceRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTraceLine)
	var records []schema.TraceRecord
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		rec, err := schema.UnmarshalRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Glob expands pattern into a sorted, de-duplicated list of trace files.
func Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid trace glob %q: %w", pattern, err)
	}
	seen := make(map[string]struct{}, len(matches))
	var files []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		files = append(files, m)
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no trace files matched %q", pattern)
	}
	return files, nil
}

// ReadGlob loads all records from every file matching pattern.
func ReadGlob(pattern string) ([]schema.TraceRecord, []string, error) {
	files, err := Glob(pattern)
	if err != nil {
		return nil, nil, err
	}
	var all []schema.TraceRecord
	for _, f := range files {
		recs, err := ReadFile(f)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, recs...)
	}
	return all, files, nil
}
