package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/axd/internal/axerr"
)

func TestDecodeToken_RoundTrip(t *testing.T) {
	for _, offset := range []int{0, 1, 7, 1000} {
		got, err := DecodeToken(EncodeToken(offset))
		require.NoError(t, err)
		assert.Equal(t, offset, got)
	}
}

func TestDecodeToken_Empty(t *testing.T) {
	got, err := DecodeToken("")
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestDecodeToken_Malformed(t *testing.T) {
	for _, tok := range []string{"not-base64!", "aGVsbG8=", EncodeToken(0) + "x"} {
		_, err := DecodeToken(tok)
		require.Error(t, err, "token %q", tok)
		assert.Equal(t, axerr.KindInvalidArgument, axerr.KindOf(err))
	}
}

func TestClampPageSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		want    int
		wantErr bool
	}{
		{"zero uses default", 0, 50, false},
		{"in range passes through", 10, 10, false},
		{"above max clamps", 500, 100, false},
		{"negative rejected", -1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClampPageSize(tt.size, 50, 100)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPaginate_SinglePage(t *testing.T) {
	items := []int{1, 2, 3}

	page, err := Paginate(items, 10, "", 50, 100)
	require.NoError(t, err)
	assert.Equal(t, items, page.Items)
	assert.Empty(t, page.NextPageToken, "exhausted listing must not emit a token")
}

func TestPaginate_EmitsTokenOnlyWhenMore(t *testing.T) {
	items := []int{1, 2, 3}

	page, err := Paginate(items, 3, "", 50, 100)
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)
	assert.Empty(t, page.NextPageToken, "exactly pageSize items left means no next page")
}

func TestPaginate_WalksAllPages(t *testing.T) {
	items := make([]int, 10)
	for i := range items {
		items[i] = i
	}

	var collected []int
	token := ""
	pages := 0
	for {
		page, err := Paginate(items, 3, token, 50, 100)
		require.NoError(t, err)
		require.LessOrEqual(t, len(page.Items), 3)
		collected = append(collected, page.Items...)
		pages++
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	assert.Equal(t, items, collected)
	assert.Equal(t, 4, pages)
}

func TestPaginate_OffsetPastEnd(t *testing.T) {
	page, err := Paginate([]int{1, 2}, 3, EncodeToken(10), 50, 100)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Empty(t, page.NextPageToken)
}

// Property: iterating with page tokens produces exactly the same sequence
// as one unbounded request, no page exceeds pageSize, and the next token is
// absent iff the iteration is exhausted.
func TestPaginate_CompletenessProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 200).Draw(t, "n")
		size := rapid.IntRange(1, 40).Draw(t, "pageSize")

		items := make([]int, n)
		for i := range items {
			items[i] = i
		}

		var collected []int
		token := ""
		for {
			page, err := Paginate(items, size, token, 50, 1000)
			require.NoError(t, err)
			require.LessOrEqual(t, len(page.Items), size)
			collected = append(collected, page.Items...)
			if page.NextPageToken == "" {
				break
			}
			token = page.NextPageToken
		}

		require.Equal(t, items, collected)
	})
}
