package api

import (
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/splitify/splitify/internal/store"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// pageRequest is the ?page= / ?limit= window requested by a list call.
type pageRequest struct {
	number int
	size   int
}

// paginated is the list envelope returned by every collection endpoint.
type paginated struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  any     `json:"results"`
}

// parsePage reads the page window. ok is false when page is not a positive
// integer or its offset would not fit the store's window; the caller answers 404.
func parsePage(r *http.Request) (p pageRequest, ok bool) {
	p = pageRequest{number: 1, size: defaultPageSize}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.size = n
		}
	}
	if p.size > maxPageSize {
		p.size = maxPageSize
	}
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > math.MaxInt32/p.size {
			return p, false
		}
		p.number = n
	}
	return p, true
}

func (p pageRequest) store() store.Page {
	return store.Page{Limit: p.size, Offset: (p.number - 1) * p.size}
}

// inRange reports whether the page exists for count rows. The first page
// always exists, even when empty.
func (p pageRequest) inRange(count int) bool {
	return p.number == 1 || (p.number-1)*p.size < count
}

// writePage writes the envelope, or 404 when the page is past the end.
func writePage(w http.ResponseWriter, r *http.Request, p pageRequest, count int, results any) {
	if !p.inRange(count) {
		writeError(w, http.StatusNotFound, msgInvalidPage)
		return
	}
	body := paginated{Count: count, Results: results}
	if p.number*p.size < count {
		next := pageURL(r, p.number+1)
		body.Next = &next
	}
	if p.number > 1 {
		prev := pageURL(r, p.number-1)
		body.Previous = &prev
	}
	writeJSON(w, http.StatusOK, body)
}

// pageURL returns the absolute URL of the current request with page set to n.
// The first page drops the page parameter.
func pageURL(r *http.Request, n int) string {
	q := r.URL.Query()
	if n <= 1 {
		q.Del("page")
	} else {
		q.Set("page", strconv.Itoa(n))
	}
	u := url.URL{
		Scheme:   requestScheme(r),
		Host:     r.Host,
		Path:     r.URL.Path,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
