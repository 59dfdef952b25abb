package tracesink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwiater/qosflow/internal/hashing"
	"github.com/mwiater/qosflow/internal/schema"
)

func record(i int) schema.TraceRecord {
	return schema.TraceRecord{
		Version:        schema.TraceVersion,
		RequestID:      fmt.Sprintf("req-%d", i),
		RunID:          "run",
		PromptID:       fmt.Sprintf("p%d", i%3),
		RepeatIdx:      i % 2,
		TsStartNS:      int64(i) * 1000,
		TsEndNS:        int64(i)*1000 + 500,
		TotalMS:        0.0005,
		Params:         schema.TraceParams{TopP: 1, MaxNewTokens: 8},
		Server:         schema.TraceServer{Model: "m", Dtype: "float16"},
		System:         schema.TraceSystem{HTTPStatus: 200, Attempts: 1},
		PromptHash:     hashing.SHA256Text("prompt"),
		OutputHash:     hashing.SHA256Text("out"),
		PromptLenChars: 6,
		OutputLenChars: 3,
		OutputText:     "out",
	}
}

func TestTracePath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "traces", "run_id=abc", "trace.jsonl"), TracePath("out", "abc"))
}

func TestSinkConcurrentAppends(t *testing.T) {
	t.Parallel()

	path := TracePath(t.TempDir(), "run")
	sink, err := Open(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, sink.Append(record(i)))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 64, sink.Count())
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Len(t, lines, 64)

	recs, err := ReadFile(path)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, r := range recs {
		ids[r.RequestID] = true
	}
	assert.Len(t, ids, 64)

	assert.ErrorIs(t, sink.Append(record(1)), ErrClosed)
}

func TestSinkRejectsInvalidRecord(t *testing.T) {
	t.Parallel()

	sink, err := Open(filepath.Join(t.TempDir(), "trace.jsonl"))
	require.NoError(t, err)
	defer sink.Close()

	bad := record(1)
	bad.TotalMS = -1
	require.Error(t, sink.Append(bad))
	assert.Equal(t, 0, sink.Count())
}

func TestArchiveRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := TracePath(dir, "run")
	sink, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, sink.Append(record(i)))
	}
	require.NoError(t, sink.Close())

	archived, err := Archive(path, true)
	require.NoError(t, err)
	assert.Equal(t, path+ArchiveSuffix, archived)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	recs, files, err := ReadGlob(filepath.Join(dir, "traces", "*", "trace.jsonl*"))
	require.NoError(t, err)
	assert.Equal(t, []string{archived}, files)
	require.Len(t, recs, 10)
	assert.Equal(t, record(3), recs[3])
}

func TestDecodeReportsLineNumber(t *testing.T) {
	_, err := Decode(strings.NewReader("\n{\"version\":\"v1\"}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestGlobNoMatches(t *testing.T) {
	_, err := Glob(filepath.Join(t.TempDir(), "*.jsonl"))
	require.Error(t, err)
}
