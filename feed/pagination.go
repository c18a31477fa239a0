// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package feed

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

const (
	DefaultPaginationCount = 50
	MaxPaginationCount     = 100
	DefaultPaginationPage  = 1
	OrderNewest            = "desc"
	OrderOldest            = "asc"
)

var ErrInvalidPaginationParameters = errors.New("invalid pagination parameters")

// PaginationParams are the parsed count, page and order query values
type PaginationParams struct {
	Count int
	Page  int
	Order string
}

// ParsePagination reads count, page and order from the query string.
// Submissions are listed newest first unless order=asc.
func ParsePagination(r *http.Request) (PaginationParams, error) {
	params := PaginationParams{
		Count: DefaultPaginationCount,
		Page:  DefaultPaginationPage,
		Order: OrderNewest,
	}
	query := r.URL.Query()
	if v := query.Get("count"); v != "" {
		count, err := strconv.Atoi(v)
		if err != nil {
			return PaginationParams{}, ErrInvalidPaginationParameters
		}
		params.Count = min(max(count, 1), MaxPaginationCount)
	}
	if v := query.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			return PaginationParams{}, ErrInvalidPaginationParameters
		}
		params.Page = max(page, 1)
	}
	if v := query.Get("order"); v != "" {
		switch order := strings.ToLower(v); order {
		case OrderNewest, OrderOldest:
			params.Order = order
		default:
			return PaginationParams{}, ErrInvalidPaginationParameters
		}
	}
	return params, nil
}

// paginate returns the requested page of items, which must already be
// sorted newest first.
func paginate[T any](items []T, params PaginationParams) []T {
	if params.Order == OrderOldest {
		reversed := make([]T, len(items))
		for i, item := range items {
			reversed[len(items)-1-i] = item
		}
		items = reversed
	}
	start := (params.Page - 1) * params.Count
	if start >= len(items) {
		return []T{}
	}
	end := min(start+params.Count, len(items))
	return items[start:end]
}

// setPaginationHeaders reports the total item and page counts
func setPaginationHeaders(w http.ResponseWriter, total int, params PaginationParams) {
	pages := 0
	if total > 0 && params.Count > 0 {
		pages = (total + params.Count - 1) / params.Count
	}
	w.Header().Set("X-Pagination-Count-Total", strconv.Itoa(total))
	w.Header().Set("X-Pagination-Page-Total", strconv.Itoa(pages))
}
