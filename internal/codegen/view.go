package codegen

import (
	genspec "github.com/mark3labs/swagger2drf/internal/spec"
)

// View is the APIView class generated for one path.
type View struct {
	ID        string
	ClassName string
	Path      string
	Methods   []Method
	// RequiresAuth is set when any method guards with the token verifier.
	RequiresAuth bool
}

func (v View) Lines() []string {
	lines := []string{"class " + v.ClassName + "(APIView):"}
	for i, m := range v.Methods {
		if i > 0 {
			lines = append(lines, "")
		}
		for _, l := range m.Lines() {
			lines = append(lines, indent+l)
		}
	}
	return lines
}

// BuildViews groups the contract's operations into one view per path, in
// contract order. Two paths mapping to the same view identifier fail with
// *NameCollisionError.
func BuildViews(c *genspec.Contract, opts Options) ([]View, error) {
	reg := NewRegistry()
	views := make([]View, 0, len(c.Paths))
	for _, entry := range c.Paths {
		id := ViewIdentifier(entry.Path)
		if err := reg.Claim(id, entry.Path); err != nil {
			return nil, err
		}
		v := View{ID: id, ClassName: ViewClassName(id), Path: entry.Path}
		for _, op := range entry.Operations {
			v.Methods = append(v.Methods, SynthesizeMethod(op, id, opts))
			if op.RequiresAuth {
				v.RequiresAuth = true
			}
		}
		views = append(views, v)
	}
	return views, nil
}
