package syncflush

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingFlusher struct {
	pages   []int64
	removed []string
	fail    bool
}

func (f *recordingFlusher) FlushPage(ctx context.Context, uid int64) error {
	if f.fail {
		return errors.New("cache backend down")
	}
	f.pages = append(f.pages, uid)
	return nil
}

func (f *recordingFlusher) Remove(ctx context.Context, cache, key string) error {
	if f.fail {
		return errors.New("cache backend down")
	}
	f.removed = append(f.removed, fmt.Sprintf("%s|%s", cache, key))
	return nil
}

func TestParseTokens(t *testing.T) {
	require.Nil(t, ParseTokens(""))
	require.Equal(t, []string{"pages:1", "tt_content:2"}, ParseTokens("pages:1, tt_content:2 ,"))
}

func TestDispatcher_Dispatch(t *testing.T) {
	rec := &recordingFlusher{}
	d := NewDispatcher(rec, rec, nil)

	flushed, err := d.Dispatch(context.Background(), []string{
		"pages:10",
		"pages:20",
		"tt_content:100", // no cache mapping, skipped
		"framework:routes|page-10",
		"garbage",    // no colon, skipped
		"pages:oops", // non-numeric uid, skipped
	})
	require.NoError(t, err)
	require.Equal(t, 3, flushed)
	require.Equal(t, []int64{10, 20}, rec.pages)
	require.Equal(t, []string{"routes|page-10"}, rec.removed)
}

func TestDispatcher_DispatchWithoutBackends(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	flushed, err := d.Dispatch(context.Background(), []string{"pages:10", "framework:c|k"})
	require.NoError(t, err)
	require.Zero(t, flushed)
}

func TestDispatcher_DispatchStopsOnBackendError(t *testing.T) {
	rec := &recordingFlusher{fail: true}
	d := NewDispatcher(rec, rec, nil)
	flushed, err := d.Dispatch(context.Background(), []string{"pages:10", "pages:20"})
	require.Error(t, err)
	require.Zero(t, flushed)
}

func TestDispatcher_DispatchFile(t *testing.T) {
	rec := &recordingFlusher{}
	d := NewDispatcher(rec, rec, nil)

	path := filepath.Join(t.TempDir(), "inc_production_20240501-143045_db.txt")
	require.NoError(t, os.WriteFile(path, []byte("pages:10,pages:20"), 0o644))

	flushed, err := d.DispatchFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, flushed)

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err), "consumed sidecar is removed")
}

func TestDispatcher_DispatchDir(t *testing.T) {
	rec := &recordingFlusher{}
	d := NewDispatcher(rec, rec, nil)
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("pages:1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("pages:2,framework:c|k"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dump.sql.gz"), []byte("x"), 0o644))

	total, err := d.DispatchDir(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 3, total)

	matches, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	require.NoError(t, err)
	require.Empty(t, matches)
	_, err = os.Stat(filepath.Join(dir, "dump.sql.gz"))
	require.NoError(t, err, "non-sidecar files are untouched")
}
