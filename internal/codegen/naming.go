package codegen

import (
	"fmt"
	"strings"

	genspec "github.com/mark3labs/swagger2drf/internal/spec"
)

const (
	qualifierSeparator = "__"
	serializerSuffix   = "Serializer"
	viewPrefix         = "api"
	viewSuffix         = "View"
)

// Context is one link of a naming chain. Contexts are immutable; Child returns
// a new link pointing at its parent.
type Context struct {
	name   string
	parent *Context
}

// Root starts a naming chain, typically at a top-level definition name.
func Root(name string) *Context { return &Context{name: name} }

func (c *Context) Child(name string) *Context { return &Context{name: name, parent: c} }

func (c *Context) Name() string { return c.name }

func (c *Context) Parent() *Context { return c.parent }

// chain returns the local names from the root down to c.
func (c *Context) chain() []string {
	var names []string
	for el := c; el != nil; el = el.parent {
		names = append(names, el.name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}

func (c *Context) String() string { return strings.Join(c.chain(), ".") }

// Qualify returns the serializer class name for c: every local name from the
// root down, joined with "__", plus the "Serializer" suffix.
// Characters outside Python identifiers become "_".
func Qualify(c *Context) string {
	name := identChars(strings.Join(c.chain(), qualifierSeparator))
	if name == "" || name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name + serializerSuffix
}

// ViewIdentifier derives the identifier shared by a path's view class, its
// handler keys and its route name. "/items/{id}" becomes "api_items_id".
func ViewIdentifier(path string) string {
	id := strings.ReplaceAll(path, "/", "_")
	id = strings.NewReplacer("{", "", "}", "").Replace(id)
	return viewPrefix + identChars(id)
}

func ViewClassName(viewID string) string { return viewID + viewSuffix }

// HandlerKey is the name the generated view looks up in the handler module.
func HandlerKey(viewID string, method genspec.HttpMethod) string {
	return viewID + "_" + string(method)
}

// NameCollisionError reports two distinct origins mapping to one generated name.
type NameCollisionError struct {
	Name   string
	First  string
	Second string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("codegen: %q and %q both generate the name %s", e.First, e.Second, e.Name)
}

// Registry records generated names with the origin that produced them.
type Registry struct {
	owners map[string]string
}

func NewRegistry() *Registry { return &Registry{owners: map[string]string{}} }

// Claim records name for origin. Claiming a name already held by another
// origin fails with *NameCollisionError.
func (r *Registry) Claim(name, origin string) error {
	if prev, ok := r.owners[name]; ok && prev != origin {
		return &NameCollisionError{Name: name, First: prev, Second: origin}
	}
	r.owners[name] = origin
	return nil
}

var pyKeywords = map[string]struct{}{
	"False": {}, "None": {}, "True": {}, "and": {}, "as": {}, "assert": {}, "async": {},
	"await": {}, "break": {}, "class": {}, "continue": {}, "def": {}, "del": {}, "elif": {},
	"else": {}, "except": {}, "finally": {}, "for": {}, "from": {}, "global": {}, "if": {},
	"import": {}, "in": {}, "is": {}, "lambda": {}, "nonlocal": {}, "not": {}, "or": {},
	"pass": {}, "raise": {}, "return": {}, "try": {}, "while": {}, "with": {}, "yield": {},
}

// identChars replaces every rune that cannot appear in a Python identifier
// with "_".
func identChars(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// PyIdent maps a contract name onto a Python identifier. Names that already
// are identifiers come back unchanged.
func PyIdent(name string) string {
	id := identChars(name)
	if id == "" {
		return "_"
	}
	if id[0] >= '0' && id[0] <= '9' {
		id = "_" + id
	}
	if _, ok := pyKeywords[id]; ok {
		id += "_"
	}
	return id
}

// reservedLocals are the names every generated view method binds itself.
var reservedLocals = map[string]struct{}{"self": {}, "request": {}, "handler": {}}

// PyLocal is PyIdent for names bound inside a view method: method arguments,
// extracted parameters and route variables. Names the method already uses get
// a "_" suffix.
func PyLocal(name string) string {
	id := PyIdent(name)
	if _, ok := reservedLocals[id]; ok {
		id += "_"
	}
	return id
}
