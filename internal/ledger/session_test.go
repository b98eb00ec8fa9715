package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takumin/cloudcase/internal/model"
)

func testMeta(total int) model.Meta {
	return model.Meta{CreatedAt: model.Now(), TotalCases: total, CasesDir: "cases", Mode: "serial"}
}

func TestOpen_WritesHeaderFirst(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testMeta(5))
	require.NoError(t, err)
	defer s.Close()

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 1)

	var header map[string]model.Meta
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &header))
	meta, ok := header["__meta__"]
	require.True(t, ok)
	assert.Equal(t, 5, meta.TotalCases)
	assert.Equal(t, "cases", meta.CasesDir)
}

func TestAppendAndReadLog(t *testing.T) {
	s, err := Open(t.TempDir(), testMeta(2))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(model.Record{Case: "a.md", Status: model.StatusPass}))
	require.NoError(t, s.Append(model.Record{Case: "b.md", Status: model.StatusFail, Reason: "broke"}))

	meta, records, err := ReadLog(s.Path())
	require.NoError(t, err)
	assert.Equal(t, 2, meta.TotalCases)
	require.Len(t, records, 2)
	assert.Equal(t, "a.md", records[0].Case)
	assert.Equal(t, model.StatusFail, records[1].Status)
	assert.Equal(t, "broke", records[1].Reason)
}

func TestAppend_AfterCloseFails(t *testing.T) {
	s, err := Open(t.TempDir(), testMeta(1))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Append(model.Record{Case: "a.md", Status: model.StatusPass})
	require.Error(t, err)
	var we *WriteError
	assert.ErrorAs(t, err, &we)
}

func TestReadProgress_IgnoresPartialTrailingLine(t *testing.T) {
	s, err := Open(t.TempDir(), testMeta(5))
	require.NoError(t, err)
	for _, c := range []string{"a.md", "b.md", "c.md"} {
		require.NoError(t, s.Append(model.Record{Case: c, Status: model.StatusPass}))
	}
	require.NoError(t, s.Close())

	// Simulate a crash mid-append: a record fragment with no newline.
	f, err := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"case": "d.md", "stat`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	p, err := ReadProgress(s.Path())
	require.NoError(t, err)
	assert.Equal(t, 3, p.Done)
	assert.Equal(t, 5, p.Meta.TotalCases)
}

func TestReadProgress_MissingFile(t *testing.T) {
	_, err := ReadProgress(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.Error(t, err)
}

func TestFinalize_OrdersSnapshotByDiscovery(t *testing.T) {
	s, err := Open(t.TempDir(), testMeta(3))
	require.NoError(t, err)
	defer s.Close()

	// Parallel pods finish out of order.
	require.NoError(t, s.Append(model.Record{Case: "c.md", Status: model.StatusPass}))
	require.NoError(t, s.Append(model.Record{Case: "a.md", Status: model.StatusFail}))
	require.NoError(t, s.Append(model.Record{Case: "b.md", Status: model.StatusSkip}))

	snapPath, err := s.Finalize(map[string]int{"a.md": 0, "b.md": 1, "c.md": 2})
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSuffix(s.Path(), ".jsonl")+".json", snapPath)

	data, err := os.ReadFile(snapPath)
	require.NoError(t, err)
	var records []model.Record
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 3)
	assert.Equal(t, "a.md", records[0].Case)
	assert.Equal(t, "b.md", records[1].Case)
	assert.Equal(t, "c.md", records[2].Case)
}

func TestFinalize_UnknownCasesSortLast(t *testing.T) {
	s, err := Open(t.TempDir(), testMeta(2))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(model.Record{Case: "stray.md", Status: model.StatusPass}))
	require.NoError(t, s.Append(model.Record{Case: "a.md", Status: model.StatusPass}))

	snapPath, err := s.Finalize(map[string]int{"a.md": 0})
	require.NoError(t, err)

	data, err := os.ReadFile(snapPath)
	require.NoError(t, err)
	var records []model.Record
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "a.md", records[0].Case)
	assert.Equal(t, "stray.md", records[1].Case)
}

func TestAtomicWriteJSON_BackupAndReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	require.NoError(t, atomicWriteJSON(path, []byte(`{"v": 1}`)))
	require.NoError(t, atomicWriteJSON(path, []byte(`{"v": 2}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v": 2}`, string(data))

	bak, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Equal(t, `{"v": 1}`, string(bak))

	// No leftover temp files.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".cloudcase-tmp-"), e.Name())
	}
}

func TestAtomicWriteJSON_RejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	err := atomicWriteJSON(path, []byte(`{not json`))
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLatestLog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260101_000000.jsonl"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260102_000000.jsonl"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260102_000000.json"), nil, 0644))

	path, err := LatestLog(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260102_000000.jsonl"), path)
}

func TestLatestLog_Empty(t *testing.T) {
	_, err := LatestLog(t.TempDir())
	assert.Error(t, err)
}
