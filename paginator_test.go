package gateway

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeItem struct {
	ID string
}

func fakePaginatedFetch(pages [][]fakeItem, cursors []string) FetchPage[fakeItem] {
	call := 0
	return func(ctx context.Context, cursor string, pageSize int) ([]fakeItem, string, error) {
		if call >= len(pages) {
			return nil, "", nil
		}
		items := pages[call]
		next := cursors[call]
		call++
		return items, next, nil
	}
}

func TestPaginator_BasicPagination(t *testing.T) {
	pages := [][]fakeItem{
		{{ID: "1"}, {ID: "2"}},
		{{ID: "3"}, {ID: "4"}},
	}
	cursors := []string{"c1", ""}

	p := NewPaginator(fakePaginatedFetch(pages, cursors), func(i fakeItem) string { return i.ID }, 10)
	got, err := p.Collect(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, it := range got {
		ids = append(ids, it.ID)
	}
	require.Equal(t, []string{"1", "2", "3", "4"}, ids)
}

func TestPaginator_StopsAtMaxItems(t *testing.T) {
	pages := [][]fakeItem{
		{{ID: "1"}, {ID: "2"}, {ID: "3"}},
		{{ID: "4"}, {ID: "5"}},
	}
	cursors := []string{"c1", "c2"}

	p := NewPaginator(fakePaginatedFetch(pages, cursors), func(i fakeItem) string { return i.ID }, 2)
	got, err := p.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestPaginator_DedupesAcrossPages(t *testing.T) {
	pages := [][]fakeItem{
		{{ID: "1"}, {ID: "2"}},
		{{ID: "2"}, {ID: "3"}},
	}
	cursors := []string{"c1", ""}

	p := NewPaginator(fakePaginatedFetch(pages, cursors), func(i fakeItem) string { return i.ID }, 10)
	got, err := p.Collect(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, it := range got {
		ids = append(ids, it.ID)
	}
	require.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestPaginator_StagnantCursorTerminates(t *testing.T) {
	call := 0
	fetch := func(ctx context.Context, cursor string, pageSize int) ([]fakeItem, string, error) {
		call++
		if call > 5 {
			t.Fatal("paginator did not terminate on stagnant cursor")
		}
		return []fakeItem{{ID: fmt.Sprintf("x%d", call)}}, "same-cursor", nil
	}

	p := NewPaginator(fetch, func(i fakeItem) string { return i.ID }, 100)
	got, err := p.Collect(context.Background())
	require.NoError(t, err)
	// First page's returned cursor differs from the "" cursor used to fetch
	// it, so it is not stagnant; the second page repeats the cursor it was
	// fetched with and terminates the stream after yielding its item.
	require.Len(t, got, 2)
}

func TestPaginator_PropagatesFetchError(t *testing.T) {
	fetch := func(ctx context.Context, cursor string, pageSize int) ([]fakeItem, string, error) {
		return nil, "", fmt.Errorf("upstream boom")
	}
	p := NewPaginator(fetch, func(i fakeItem) string { return i.ID }, 10)
	_, _, err := p.Next(context.Background())
	require.Error(t, err)
}

func TestAllTweetsEverState_NextMaxID(t *testing.T) {
	var s allTweetsEverState
	_, ok := s.nextMaxID()
	require.False(t, ok)

	s.observe(100)
	s.observe(50)
	s.observe(75)

	id, ok := s.nextMaxID()
	require.True(t, ok)
	require.Equal(t, int64(49), id)
}
