package syncarea

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	trees map[int64][]int64
}

func (r *stubResolver) Subtree(root int64) ([]int64, error) {
	ids, ok := r.trees[root]
	if !ok {
		return nil, errors.New("unknown root")
	}
	return ids, nil
}

func TestSyncList_AddRemove(t *testing.T) {
	l := NewSyncList()
	require.True(t, l.Empty(1))

	l.Add(1, PageEntry{PageID: 10, Type: PageAlone, Removeable: true})
	l.Add(1, PageEntry{PageID: 20, Type: PageAlone, Removeable: false})
	require.False(t, l.Empty(1))
	require.True(t, l.Empty(2), "areas are independent")

	require.True(t, l.Remove(1, 10))
	require.False(t, l.Remove(1, 20), "non-removeable entries stay queued")
	require.False(t, l.Remove(1, 99))

	entries := l.Entries(1)
	require.Len(t, entries, 1)
	require.Equal(t, int64(20), entries[0].PageID)
}

func TestSyncList_AddReplacesSamePage(t *testing.T) {
	l := NewSyncList()
	l.Add(1, PageEntry{PageID: 10, Type: PageAlone, Removeable: true})
	l.Add(1, PageEntry{PageID: 10, Type: PageTree, Removeable: false})

	entries := l.Entries(1)
	require.Len(t, entries, 1)
	require.Equal(t, PageTree, entries[0].Type)
	require.False(t, l.Remove(1, 10), "replacement entry governs removability")
}

func TestSyncList_PageIDs(t *testing.T) {
	l := NewSyncList()
	l.Add(1, PageEntry{PageID: 10, Type: PageAlone})
	l.Add(1, PageEntry{PageID: 20, Type: PageTree})
	l.Add(1, PageEntry{PageID: 21, Type: PageAlone})

	resolver := &stubResolver{trees: map[int64][]int64{20: {20, 21, 22}}}
	ids, err := l.PageIDs(1, resolver)
	require.NoError(t, err)
	require.Equal(t, []int64{10, 20, 21, 22}, ids, "sorted and de-duplicated")
}

func TestSyncList_PageIDs_TreeWithoutResolver(t *testing.T) {
	l := NewSyncList()
	l.Add(1, PageEntry{PageID: 20, Type: PageTree})
	_, err := l.PageIDs(1, nil)
	require.Error(t, err)
}

func TestSyncList_JSONRoundTrip(t *testing.T) {
	l := NewSyncList()
	l.Add(1, PageEntry{PageID: 10, Type: PageAlone, Removeable: true})
	l.Add(2, PageEntry{PageID: 30, Type: PageTree})

	data, err := json.Marshal(l)
	require.NoError(t, err)

	restored := NewSyncList()
	require.NoError(t, json.Unmarshal(data, restored))
	require.Equal(t, l.Entries(1), restored.Entries(1))
	require.Equal(t, l.Entries(2), restored.Entries(2))

	restored.Clear(1)
	require.True(t, restored.Empty(1))
	require.False(t, restored.Empty(2))
}
