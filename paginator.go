package gateway

import "context"

// paginatorPageCap is the per-request item cap forwarded to the upstream
// regardless of the caller's max_items, per spec.md §4.8.
const paginatorPageCap = 50

// FetchPage retrieves one page of items for a cursor (empty cursor means
// the first page) and returns the next cursor, or "" when exhausted.
type FetchPage[T any] func(ctx context.Context, cursor string, pageSize int) (items []T, nextCursor string, err error)

// idOf extracts the identity an item is deduplicated by.
type idOf[T any] func(T) string

// Paginator is the pull-based stream driver (C8), grounded on the
// teacher's fetchUserList/fetchTweetUserList cursor loops in graphql.go,
// re-expressed as an explicit Next(ctx) instead of accumulate-then-return.
type Paginator[T any] struct {
	fetch    FetchPage[T]
	id       idOf[T]
	maxItems int

	cursor   string
	emitted  int
	buf      []T
	exhausted bool
	seen     map[string]struct{}
}

// NewPaginator builds a driver bounded to maxItems, deduplicating by id.
func NewPaginator[T any](fetch FetchPage[T], id idOf[T], maxItems int) *Paginator[T] {
	if maxItems < 1 {
		maxItems = 1
	}
	return &Paginator[T]{
		fetch:    fetch,
		id:       id,
		maxItems: maxItems,
		seen:     make(map[string]struct{}),
	}
}

// Next returns the next item in upstream page order, or ok=false once
// max_items has been emitted or the upstream is exhausted.
func (p *Paginator[T]) Next(ctx context.Context) (item T, ok bool, err error) {
	if p.emitted >= p.maxItems {
		var zero T
		return zero, false, nil
	}

	for len(p.buf) == 0 {
		if p.exhausted {
			var zero T
			return zero, false, nil
		}

		pageSize := paginatorPageCap

		items, nextCursor, err := p.fetch(ctx, p.cursor, pageSize)
		if err != nil {
			var zero T
			return zero, false, err
		}

		fresh := make([]T, 0, len(items))
		for _, it := range items {
			key := p.id(it)
			if _, dup := p.seen[key]; dup {
				continue
			}
			p.seen[key] = struct{}{}
			fresh = append(fresh, it)
		}
		p.buf = fresh

		if nextCursor == "" || nextCursor == p.cursor {
			p.exhausted = true
		}
		p.cursor = nextCursor
	}

	item = p.buf[0]
	p.buf = p.buf[1:]
	p.emitted++
	return item, true, nil
}

// Collect drains the paginator into a slice, stopping early on ctx
// cancellation or an upstream error.
func (p *Paginator[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		item, ok, err := p.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, item)
	}
}

// allTweetsEverState drives the all_tweets_ever search variant: after
// an exhausted pass, it restarts from the smallest numerical tweet id seen
// minus one, per spec.md §4.8.
type allTweetsEverState struct {
	minSeenID int64
	haveMin   bool
}

func (s *allTweetsEverState) observe(id int64) {
	if !s.haveMin || id < s.minSeenID {
		s.minSeenID = id
		s.haveMin = true
	}
}

// nextMaxID returns the max_id boundary for the next restart pass (the
// smallest id observed across all passes so far, minus one), or ok=false
// if no tweet has been observed yet.
func (s *allTweetsEverState) nextMaxID() (id int64, ok bool) {
	if !s.haveMin {
		return 0, false
	}
	return s.minSeenID - 1, true
}
