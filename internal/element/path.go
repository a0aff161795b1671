package element

import (
	"strconv"
	"strings"

	"github.com/zjrosen/axd/internal/axerr"
)

// MainWindowIndex is the reserved traversal index of an application's main
// window. Windows are visited before regular children and carry negative
// indices; regular children are non-negative.
const MainWindowIndex = -10000

// Path records how an element was reached from the process root as a
// sequence of sibling indices. The encoding documents traversal order only;
// consumers treat rendered paths as opaque identity tokens.
type Path []int

// String renders the path as slash-separated indices, e.g. "-1/0/3".
// The root element renders as the empty string.
func (p Path) String() string {
	if len(p) == 0 {
		return ""
	}
	parts := make([]string, len(p))
	for i, idx := range p {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, "/")
}

// Child returns a new path extended with one more index. The receiver is not
// aliased: snapshots hold independent paths.
func (p Path) Child(idx int) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = idx
	return out
}

// Equal reports component-wise equality.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// Compare orders paths lexicographically by component, shorter prefix first.
// This is the deterministic order used everywhere results are listed.
func (p Path) Compare(o Path) int {
	n := min(len(p), len(o))
	for i := 0; i < n; i++ {
		if p[i] != o[i] {
			if p[i] < o[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(p) < len(o):
		return -1
	case len(p) > len(o):
		return 1
	default:
		return 0
	}
}

// ParsePath parses the rendered form back into a Path. The empty string is
// the root path.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return Path{}, nil
	}
	parts := strings.Split(s, "/")
	out := make(Path, len(parts))
	for i, part := range parts {
		idx, err := strconv.Atoi(part)
		if err != nil {
			return nil, axerr.InvalidArgument("malformed path %q: component %q is not an integer", s, part)
		}
		out[i] = idx
	}
	return out, nil
}
