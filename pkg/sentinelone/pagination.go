/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sentinelone

import "context"

// FetchFunc retrieves the page that starts at cursor. An empty cursor
// requests the first page.
type FetchFunc[T any] func(ctx context.Context, cursor string) (*Page[T], error)

// PageIterator walks a cursor-paginated collection one page at a time.
// Next returns nil, nil once the cursor is exhausted.
//
// The iterator is not safe for concurrent use.
type PageIterator[T any] struct {
	fetch   FetchFunc[T]
	cursor  string
	fetched int
	done    bool
}

// NewPageIterator returns an iterator driven by fetch.
func NewPageIterator[T any](fetch FetchFunc[T]) *PageIterator[T] {
	return &PageIterator[T]{fetch: fetch}
}

// Next fetches the next page. A failed fetch leaves the cursor in place so
// the same page can be requested again.
func (it *PageIterator[T]) Next(ctx context.Context) (*Page[T], error) {
	if it.done {
		return nil, nil
	}

	page, err := it.fetch(ctx, it.cursor)
	if err != nil {
		return nil, err
	}

	it.fetched++

	if page.NextCursor == "" {
		it.done = true
	}

	it.cursor = page.NextCursor

	return page, nil
}

// Fetched returns the number of pages retrieved so far.
func (it *PageIterator[T]) Fetched() int {
	return it.fetched
}

// Collect drains the iterator, returning every valid item.
func (it *PageIterator[T]) Collect(ctx context.Context) ([]T, error) {
	var all []T

	for {
		page, err := it.Next(ctx)
		if err != nil {
			return all, err
		}

		if page == nil {
			return all, nil
		}

		all = append(all, page.Items...)
	}
}
