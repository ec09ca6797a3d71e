package codegen

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	genspec "github.com/mark3labs/swagger2drf/internal/spec"
)

type ExprKind int

const (
	// ExprRef points at the serializer of another top-level definition.
	ExprRef ExprKind = iota
	// ExprScalar is a fixed field constructor such as serializers.CharField.
	ExprScalar
	// ExprList wraps Child in a ListField.
	ExprList
	// ExprNested is an inline object, emitted as its own serializer class.
	ExprNested
	// ExprUnresolved stands in for a schema shape outside the supported subset.
	ExprUnresolved
)

const (
	charField    = "serializers.CharField"
	booleanField = "serializers.BooleanField"
	integerField = "serializers.IntegerField"
	listField    = "serializers.ListField"
	jsonField    = "serializers.JSONField"
	baseClass    = "serializers.Serializer"
	elementLabel = "_element"
)

// SerializerExpr is the resolved form of a schema node.
type SerializerExpr struct {
	Kind ExprKind
	// Name is the qualified serializer name of ExprRef and ExprNested, or the
	// field constructor of ExprScalar.
	Name string
	// Ref is the referenced definition name of ExprRef.
	Ref    string
	Child  *SerializerExpr
	Fields []Field
	// Label and Type describe an ExprUnresolved node: the local name it was
	// found under and its declared type tag.
	Label string
	Type  string
}

// Field is one "name = expression" assignment of a serializer body.
type Field struct {
	Name string
	Expr SerializerExpr
}

func (e SerializerExpr) String() string { return e.call() }

func (e SerializerExpr) call(extra ...string) string {
	var callee string
	var args []string
	switch e.Kind {
	case ExprRef, ExprNested, ExprScalar:
		callee = e.Name
	case ExprList:
		callee = listField
		args = append(args, "child="+e.Child.String())
	default:
		typ := e.Type
		if typ == "" {
			typ = "untyped"
		}
		callee = jsonField
		args = append(args, "help_text="+strconv.Quote(fmt.Sprintf("unresolved schema: %s (%s)", e.Label, typ)))
	}
	args = append(args, extra...)
	return callee + "(" + strings.Join(args, ", ") + ")"
}

// Line renders the field as a class body statement. Property names that are
// not Python identifiers keep their wire name through source=.
func (f Field) Line() string {
	ident := PyIdent(f.Name)
	if ident == f.Name {
		return ident + " = " + f.Expr.call()
	}
	return ident + " = " + f.Expr.call("source="+pyString(f.Name))
}

// Attach renders the field as a statement adding it to an already defined
// class, for fields whose serializer is defined after that class.
func (f Field) Attach(class string) string {
	ident := PyIdent(f.Name)
	return class + "._declared_fields[" + pyString(ident) + "]" + strings.TrimPrefix(f.Line(), ident)
}

// serializers lists the serializer classes expr instantiates.
func (e SerializerExpr) serializers() []string {
	switch e.Kind {
	case ExprRef, ExprNested:
		return []string{e.Name}
	case ExprList:
		return e.Child.serializers()
	}
	return nil
}

// CyclicSchemaError reports a schema node reachable from itself without a
// reference hop.
type CyclicSchemaError struct {
	Path string
}

func (e *CyclicSchemaError) Error() string {
	return fmt.Sprintf("codegen: schema cycle at %s (self-reference must go through $ref)", e.Path)
}

// Resolve maps node, found under ctx, to a serializer expression.
func Resolve(node *genspec.SchemaNode, ctx *Context) (SerializerExpr, error) {
	r := &resolver{active: map[*genspec.SchemaNode]struct{}{}}
	return r.resolve(node, ctx)
}

type resolver struct {
	active map[*genspec.SchemaNode]struct{}
}

func (r *resolver) resolve(node *genspec.SchemaNode, ctx *Context) (SerializerExpr, error) {
	if node == nil {
		return SerializerExpr{Kind: ExprUnresolved, Label: ctx.Name()}, nil
	}
	if _, ok := r.active[node]; ok {
		return SerializerExpr{}, &CyclicSchemaError{Path: ctx.String()}
	}
	r.active[node] = struct{}{}
	defer delete(r.active, node)

	switch node.Kind {
	case genspec.KindRef:
		return SerializerExpr{Kind: ExprRef, Name: Qualify(Root(node.Ref)), Ref: node.Ref}, nil
	case genspec.KindObject:
		fields := make([]Field, 0, len(node.Properties))
		for _, p := range node.Properties {
			child, err := r.resolve(p.Schema, ctx.Child(p.Name))
			if err != nil {
				return SerializerExpr{}, err
			}
			fields = append(fields, Field{Name: p.Name, Expr: child})
		}
		return SerializerExpr{Kind: ExprNested, Name: Qualify(ctx), Fields: fields}, nil
	case genspec.KindArray:
		child, err := r.resolve(node.Items, ctx.Child(ctx.Name()+elementLabel))
		if err != nil {
			return SerializerExpr{}, err
		}
		return SerializerExpr{Kind: ExprList, Child: &child}, nil
	case genspec.KindString:
		return SerializerExpr{Kind: ExprScalar, Name: charField}, nil
	case genspec.KindBoolean:
		return SerializerExpr{Kind: ExprScalar, Name: booleanField}, nil
	case genspec.KindInteger:
		return SerializerExpr{Kind: ExprScalar, Name: integerField}, nil
	}
	typ := node.Type
	if typ == "" && node.Kind != genspec.KindUnknown {
		typ = string(node.Kind)
	}
	return SerializerExpr{Kind: ExprUnresolved, Label: ctx.Name(), Type: typ}, nil
}

// SerializerClass is one class of serializers.py.
type SerializerClass struct {
	Name   string
	Base   string
	Fields []Field
	// Late fields reference a serializer not yet defined where the class is
	// emitted. They are attached once every class exists.
	Late []Field
	// Definition is the top-level definition the class was generated for.
	Definition string
}

func (c SerializerClass) Lines() []string {
	lines := []string{fmt.Sprintf("class %s(%s):", c.Name, c.Base)}
	if len(c.Fields) == 0 {
		return append(lines, indent+"pass")
	}
	for _, f := range c.Fields {
		lines = append(lines, indent+f.Line())
	}
	return lines
}

func (c SerializerClass) LateLines() []string {
	lines := make([]string, 0, len(c.Late))
	for _, f := range c.Late {
		lines = append(lines, f.Attach(c.Name))
	}
	return lines
}

// BuildSerializers resolves every definition into serializer classes. Classes
// for nested objects precede the class using them, and definitions are
// ordered so referenced serializers are defined before their users. A field
// on a reference cycle, self-reference included, moves to the class's Late
// fields. Two properties of one class that map to the same Python name fail
// with *NameCollisionError.
func BuildSerializers(defs []genspec.Definition, logger *slog.Logger) ([]SerializerClass, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := NewRegistry()
	perDef := make(map[string][]SerializerClass, len(defs))
	deps := make(map[string][]string, len(defs))

	for _, def := range defs {
		ctx := Root(def.Name)
		expr, err := Resolve(def.Schema, ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "definition %s", def.Name)
		}
		c := &classCollector{definition: def.Name, reg: reg}
		top := SerializerClass{Name: Qualify(ctx), Base: baseClass, Definition: def.Name}
		switch expr.Kind {
		case ExprNested:
			top.Fields = expr.Fields
			for _, f := range expr.Fields {
				if err := c.collect(f.Expr, ctx.Child(f.Name)); err != nil {
					return nil, err
				}
			}
		case ExprRef:
			top.Base = expr.Name
			c.refs = append(c.refs, expr.Ref)
		default:
			top.Fields = []Field{{Name: "value", Expr: expr}}
			if err := c.collect(expr, ctx); err != nil {
				return nil, err
			}
		}
		if err := reg.Claim(top.Name, def.Name); err != nil {
			return nil, err
		}
		perDef[def.Name] = append(c.classes, top)
		deps[def.Name] = c.refs
	}

	var out []SerializerClass
	defined := make(map[string]bool, len(perDef))
	for _, name := range dependencyOrder(defs, deps, logger) {
		for _, cls := range perDef[name] {
			if err := claimFields(cls); err != nil {
				return nil, err
			}
			if cls.Base != baseClass && !defined[cls.Base] {
				logger.Warn("serializer aliases a definition on its own reference cycle; falling back to the plain base class",
					"serializer", cls.Name, "base", cls.Base)
				cls.Base = baseClass
			}
			var early, late []Field
			for _, f := range cls.Fields {
				if allDefined(f.Expr.serializers(), defined) {
					early = append(early, f)
				} else {
					late = append(late, f)
				}
			}
			cls.Fields, cls.Late = early, late
			defined[cls.Name] = true
			out = append(out, cls)
		}
	}
	return out, nil
}

func allDefined(names []string, defined map[string]bool) bool {
	for _, n := range names {
		if !defined[n] {
			return false
		}
	}
	return true
}

func claimFields(cls SerializerClass) error {
	reg := NewRegistry()
	for _, f := range cls.Fields {
		if err := reg.Claim(PyIdent(f.Name), cls.Name+"."+f.Name); err != nil {
			return err
		}
	}
	return nil
}

type classCollector struct {
	definition string
	reg        *Registry
	classes    []SerializerClass
	refs       []string
}

// collect walks expr, emitting a class for every nested object it contains
// (children first) and recording referenced definitions.
func (c *classCollector) collect(expr SerializerExpr, ctx *Context) error {
	switch expr.Kind {
	case ExprRef:
		c.refs = append(c.refs, expr.Ref)
	case ExprList:
		return c.collect(*expr.Child, ctx.Child(ctx.Name()+elementLabel))
	case ExprNested:
		for _, f := range expr.Fields {
			if err := c.collect(f.Expr, ctx.Child(f.Name)); err != nil {
				return err
			}
		}
		if err := c.reg.Claim(expr.Name, ctx.String()); err != nil {
			return err
		}
		c.classes = append(c.classes, SerializerClass{
			Name:       expr.Name,
			Base:       baseClass,
			Fields:     expr.Fields,
			Definition: c.definition,
		})
	}
	return nil
}

func dependencyOrder(defs []genspec.Definition, deps map[string][]string, logger *slog.Logger) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(defs))
	out := make([]string, 0, len(defs))
	var visit func(name string)
	visit = func(name string) {
		state[name] = visiting
		for _, dep := range deps[name] {
			if _, known := deps[dep]; !known {
				continue
			}
			switch state[dep] {
			case unvisited:
				visit(dep)
			case visiting:
				logger.Warn("serializer reference cycle; the field is attached after the class definitions",
					"serializer", Qualify(Root(name)), "references", Qualify(Root(dep)))
			}
		}
		state[name] = done
		out = append(out, name)
	}
	for _, def := range defs {
		if state[def.Name] == unvisited {
			visit(def.Name)
		}
	}
	return out
}
