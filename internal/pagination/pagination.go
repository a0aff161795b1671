// Package pagination implements the offset-token paging shared by every
// list and find surface. Tokens are opaque to callers and stable for the
// lifetime of the underlying snapshot or registry view.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/zjrosen/axd/internal/axerr"
)

const tokenPrefix = "o:"

// EncodeToken renders an offset as an opaque page token.
func EncodeToken(offset int) string {
	return base64.URLEncoding.EncodeToString([]byte(tokenPrefix + strconv.Itoa(offset)))
}

// DecodeToken parses a page token back into an offset. The empty token is
// offset zero. Anything unparsable is InvalidArgument.
func DecodeToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return 0, axerr.InvalidArgument("malformed page token")
	}
	s := string(raw)
	if !strings.HasPrefix(s, tokenPrefix) {
		return 0, axerr.InvalidArgument("malformed page token")
	}
	offset, err := strconv.Atoi(strings.TrimPrefix(s, tokenPrefix))
	if err != nil || offset < 0 {
		return 0, axerr.InvalidArgument("malformed page token")
	}
	return offset, nil
}

// ClampPageSize applies the default for zero and the maximum bound.
// Negative sizes are InvalidArgument.
func ClampPageSize(size, def, max int) (int, error) {
	if size < 0 {
		return 0, axerr.InvalidArgument("pageSize must be non-negative, got %d", size)
	}
	if size == 0 {
		size = def
	}
	if size > max {
		size = max
	}
	return size, nil
}

// Page is one page of results plus the token for the next page, empty when
// the listing is exhausted.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// Request is the decoded paging input: the effective page size and the
// offset from the token. FetchLimit is the over-fetch bound (offset +
// size + 1); producers that fetch lazily should stop there.
type Request struct {
	Size       int
	Offset     int
	FetchLimit int
}

// ParseRequest validates pageSize/pageToken against the configured default
// and maximum.
func ParseRequest(pageSize int, pageToken string, def, max int) (Request, error) {
	size, err := ClampPageSize(pageSize, def, max)
	if err != nil {
		return Request{}, err
	}
	offset, err := DecodeToken(pageToken)
	if err != nil {
		return Request{}, err
	}
	return Request{Size: size, Offset: offset, FetchLimit: offset + size + 1}, nil
}

// Slice pages over items fetched up to req.FetchLimit: it returns the
// window [offset, offset+size) and emits a next token iff the over-fetch
// produced the extra element.
func Slice[T any](req Request, items []T) Page[T] {
	if req.Offset >= len(items) {
		return Page[T]{Items: []T{}}
	}
	end := req.Offset + req.Size
	more := len(items) > end
	if end > len(items) {
		end = len(items)
	}
	page := Page[T]{Items: items[req.Offset:end]}
	if more {
		page.NextPageToken = EncodeToken(end)
	}
	return page
}

// Paginate is the common whole-slice path: parse, slice, done.
func Paginate[T any](items []T, pageSize int, pageToken string, def, max int) (Page[T], error) {
	req, err := ParseRequest(pageSize, pageToken, def, max)
	if err != nil {
		return Page[T]{}, err
	}
	return Slice(req, items), nil
}

// String renders the request for logs.
func (r Request) String() string {
	return fmt.Sprintf("size=%d offset=%d", r.Size, r.Offset)
}
