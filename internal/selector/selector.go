// Package selector resolves element selectors against snapshots. A selector
// is a predicate tree combining attribute matches, path equality, region
// containment, and boolean composition.
package selector

import (
	"strings"

	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/element"
)

// Selector is a predicate over snapshot elements.
type Selector interface {
	Matches(e *element.Element) bool
}

// Field names an element attribute usable in match predicates.
type Field string

const (
	FieldRole        Field = "role"
	FieldSubrole     Field = "subrole"
	FieldIdentifier  Field = "identifier"
	FieldTitle       Field = "title"
	FieldValue       Field = "value"
	FieldDescription Field = "description"
)

// Op is the comparison applied by an attribute predicate.
type Op string

const (
	OpEquals   Op = "equals"
	OpContains Op = "contains"
)

// Attr matches one attribute against a literal.
type Attr struct {
	Field Field
	Op    Op
	Want  string
}

func (a Attr) Matches(e *element.Element) bool {
	var got string
	switch a.Field {
	case FieldRole:
		got = e.Role
	case FieldSubrole:
		got = e.Subrole
	case FieldIdentifier:
		got = e.Identifier
	case FieldTitle:
		got = e.Title
	case FieldValue:
		got = e.Value
	case FieldDescription:
		got = e.Description
	default:
		return false
	}
	if a.Op == OpContains {
		return strings.Contains(got, a.Want)
	}
	return got == a.Want
}

// PathIs matches the element with exactly the given path.
type PathIs struct {
	Path element.Path
}

func (p PathIs) Matches(e *element.Element) bool {
	return e.Path.Equal(p.Path)
}

// Within matches elements whose bounds intersect the region. Region
// coordinates are Global Display Coordinates.
type Within struct {
	Region element.Bounds
}

func (w Within) Matches(e *element.Element) bool {
	return e.Bounds.Intersects(w.Region)
}

// And matches when every child matches. An empty And matches everything.
type And []Selector

func (a And) Matches(e *element.Element) bool {
	for _, s := range a {
		if !s.Matches(e) {
			return false
		}
	}
	return true
}

// Or matches when any child matches. An empty Or matches nothing.
type Or []Selector

func (o Or) Matches(e *element.Element) bool {
	for _, s := range o {
		if s.Matches(e) {
			return true
		}
	}
	return false
}

// Not inverts its child.
type Not struct {
	Inner Selector
}

func (n Not) Matches(e *element.Element) bool {
	return !n.Inner.Matches(e)
}

// FindElements returns elements matching sel in deterministic path order.
// max bounds the result count; max <= 0 means unbounded. Callers needing a
// "more results exist" signal pass one more than they intend to return.
func FindElements(snap *element.Snapshot, sel Selector, max int) []element.Element {
	var out []element.Element
	for i := range snap.Elements {
		if sel.Matches(&snap.Elements[i]) {
			out = append(out, snap.Elements[i].Clone())
			if max > 0 && len(out) == max {
				break
			}
		}
	}
	return out
}

// FindElement returns the unique element matching sel. Zero matches fail
// with NotFound; more than one fails with FailedPrecondition.
func FindElement(snap *element.Snapshot, sel Selector) (element.Element, error) {
	matches := FindElements(snap, sel, 2)
	switch len(matches) {
	case 0:
		return element.Element{}, axerr.NotFound("no element matches selector")
	case 1:
		return matches[0], nil
	default:
		return element.Element{}, axerr.FailedPrecondition("selector is ambiguous: more than one element matches")
	}
}
