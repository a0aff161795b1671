package selector

import (
	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/element"
)

// Region is the wire form of a within-region predicate.
type Region struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Spec is the wire form of a selector. Leaf fields combine with implicit
// AND; All/Any/Not compose nested specs. At least one predicate must be
// present somewhere in the tree.
type Spec struct {
	Role        string `json:"role,omitempty"`
	Subrole     string `json:"subrole,omitempty"`
	Identifier  string `json:"identifier,omitempty"`
	Title       string `json:"title,omitempty"`
	Value       string `json:"value,omitempty"`
	Description string `json:"description,omitempty"`

	TitleContains       string `json:"titleContains,omitempty"`
	ValueContains       string `json:"valueContains,omitempty"`
	DescriptionContains string `json:"descriptionContains,omitempty"`
	IdentifierContains  string `json:"identifierContains,omitempty"`

	Path   string  `json:"path,omitempty"`
	Within *Region `json:"within,omitempty"`

	All []Spec `json:"all,omitempty"`
	Any []Spec `json:"any,omitempty"`
	Not *Spec  `json:"not,omitempty"`
}

// Compile validates the spec and builds the predicate tree.
func (s Spec) Compile() (Selector, error) {
	sel, n, err := s.compile()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, axerr.InvalidArgument("selector has no predicates")
	}
	return sel, nil
}

func (s Spec) compile() (Selector, int, error) {
	var preds And
	count := 0

	addAttr := func(field Field, op Op, want string) {
		if want == "" {
			return
		}
		preds = append(preds, Attr{Field: field, Op: op, Want: want})
		count++
	}

	addAttr(FieldRole, OpEquals, s.Role)
	addAttr(FieldSubrole, OpEquals, s.Subrole)
	addAttr(FieldIdentifier, OpEquals, s.Identifier)
	addAttr(FieldTitle, OpEquals, s.Title)
	addAttr(FieldValue, OpEquals, s.Value)
	addAttr(FieldDescription, OpEquals, s.Description)
	addAttr(FieldTitle, OpContains, s.TitleContains)
	addAttr(FieldValue, OpContains, s.ValueContains)
	addAttr(FieldDescription, OpContains, s.DescriptionContains)
	addAttr(FieldIdentifier, OpContains, s.IdentifierContains)

	if s.Path != "" {
		p, err := element.ParsePath(s.Path)
		if err != nil {
			return nil, 0, err
		}
		preds = append(preds, PathIs{Path: p})
		count++
	}

	if s.Within != nil {
		if s.Within.W <= 0 || s.Within.H <= 0 {
			return nil, 0, axerr.InvalidArgument("within region must have positive width and height")
		}
		preds = append(preds, Within{Region: element.Bounds{
			X: s.Within.X, Y: s.Within.Y, W: s.Within.W, H: s.Within.H,
		}})
		count++
	}

	for _, child := range s.All {
		sel, n, err := child.compile()
		if err != nil {
			return nil, 0, err
		}
		preds = append(preds, sel)
		count += n
	}

	if len(s.Any) > 0 {
		var any Or
		for _, child := range s.Any {
			sel, n, err := child.compile()
			if err != nil {
				return nil, 0, err
			}
			any = append(any, sel)
			count += n
		}
		preds = append(preds, any)
	}

	if s.Not != nil {
		sel, n, err := s.Not.compile()
		if err != nil {
			return nil, 0, err
		}
		if n == 0 {
			return nil, 0, axerr.InvalidArgument("not clause has no predicates")
		}
		preds = append(preds, Not{Inner: sel})
		count += n
	}

	return preds, count, nil
}
