// internal/phase/input.go
package phase

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	rpsPattern    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*rps`)
	lambdaPattern = regexp.MustCompile(`lambda=(\d+(?:\.\d+)?)`)
)

// RateFromPath extracts an arrival rate from names such as "40rps" or
// "lambda=40".
func RateFromPath(path string) (float64, bool) {
	for _, re := range []*regexp.Regexp{rpsPattern, lambdaPattern} {
		if m := re.FindStringSubmatch(path); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}

// LoadMetricsFile reads one metrics file (.json object or first .csv row)
// as a column map. Absent and empty values are left out.
func LoadMetricsFile(path string) (map[string]any, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode %q: %w", path, err)
		}
		for k, v := range raw {
			if v == nil {
				delete(raw, k)
			}
		}
		return raw, nil
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r := csv.NewReader(f)
		header, err := r.Read()
		if err == io.EOF {
			return map[string]any{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		record, err := r.Read()
		if err == io.EOF {
			return map[string]any{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		out := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(record) && strings.TrimSpace(record[i]) != "" {
				out[col] = record[i]
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported metrics file: %s", path)
	}
}

// RowFromMap builds a Row from a column map, applying the arrival-rate and
// p95 fallbacks: arrival_rate_rps, else throughput_rps, else a rate parsed
// from path; p95_latency, else latency_ms_p95.
func RowFromMap(cols map[string]any, path string) Row {
	num := func(key string) *float64 {
		v, ok := cols[key]
		if !ok {
			return nil
		}
		return toFloat(v)
	}
	r := Row{
		Source:                  path,
		MeanQuality:             num("mean_quality"),
		TaskExactMatch:          num("task_exact_match"),
		StabilityEditSimilarity: num("stability_edit_similarity"),
		VarQuality:              num("var_quality"),
		TaskExactMatchVar:       num("task_exact_match_var"),
		StabilityEditSimVar:     num("stability_edit_similarity_var"),
		P95Latency:              num("p95_latency"),
	}

	if _, ok := cols["arrival_rate_rps"]; ok {
		r.ArrivalRate = num("arrival_rate_rps")
	} else {
		r.ArrivalRate = num("throughput_rps")
	}
	if r.ArrivalRate == nil {
		if v, ok := RateFromPath(path); ok {
			r.ArrivalRate = &v
		}
	}
	if _, ok := cols["p95_latency"]; !ok {
		r.P95Latency = num("latency_ms_p95")
	}
	return r
}

func toFloat(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) {
		return nil
	}
	return &f
}

// LoadRows reads every metrics file matching pattern, in sorted path order.
func LoadRows(pattern string) ([]Row, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad glob %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files matched: %s", pattern)
	}
	sort.Strings(paths)

	rows := make([]Row, 0, len(paths))
	for _, p := range paths {
		cols, err := LoadMetricsFile(p)
		if err != nil {
			return nil, err
		}
		rows = append(rows, RowFromMap(cols, p))
	}
	logrus.Debugf("loaded %d metrics files from %s", len(rows), pattern)
	return rows, nil
}
