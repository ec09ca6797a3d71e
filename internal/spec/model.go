package spec

// Contract model consumed by the code generators. It is built once per run by
// BuildContract and never mutated afterwards.

type HttpMethod string

const (
	GET     HttpMethod = "get"
	POST    HttpMethod = "post"
	PUT     HttpMethod = "put"
	DELETE  HttpMethod = "delete"
	PATCH   HttpMethod = "patch"
	HEAD    HttpMethod = "head"
	OPTIONS HttpMethod = "options"
)

// knownMethods lists the operation keys a Swagger 2.0 path item may carry.
var knownMethods = []HttpMethod{GET, PUT, POST, DELETE, OPTIONS, HEAD, PATCH}

type ParamLocation string

const (
	InPath     ParamLocation = "path"
	InHeader   ParamLocation = "header"
	InBody     ParamLocation = "body"
	InQuery    ParamLocation = "query"
	InFormData ParamLocation = "formData"
)

// DefaultAuthHeader is the header parameter name that marks an operation as
// requiring authentication.
const DefaultAuthHeader = "token"

type Contract struct {
	Title       string
	Version     string
	BasePath    string
	Paths       []PathEntry
	Definitions []Definition
}

// Definition looks up a top-level definition by name.
func (c *Contract) Definition(name string) (Definition, bool) {
	for _, d := range c.Definitions {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

type PathEntry struct {
	Path       string
	Operations []Operation
}

type Operation struct {
	Method      HttpMethod
	OperationID string
	Summary     string
	Tags        []string
	Parameters  []Parameter
	// RequiresAuth is derived from the parameter list when the contract is
	// loaded: a header parameter named after the auth header.
	RequiresAuth bool
}

type Parameter struct {
	Name     string
	In       ParamLocation
	Required bool
	Schema   *SchemaNode // body parameters only
}

type Definition struct {
	Name   string
	Schema *SchemaNode
}

type SchemaKind string

const (
	KindRef     SchemaKind = "ref"
	KindObject  SchemaKind = "object"
	KindArray   SchemaKind = "array"
	KindString  SchemaKind = "string"
	KindBoolean SchemaKind = "boolean"
	KindInteger SchemaKind = "integer"
	KindUnknown SchemaKind = "unknown"
)

// SchemaNode is one node of a schema tree. Ref nodes only carry the name of
// the referenced definition; Properties is set for objects and Items for arrays.
type SchemaNode struct {
	Kind        SchemaKind
	Type        string // declared type tag, as written in the contract
	Ref         string
	Properties  []Property
	Items       *SchemaNode
	Required    []string
	Format      string
	Description string
}

type Property struct {
	Name   string
	Schema *SchemaNode
}

// Property returns the named property of an object node.
func (n *SchemaNode) Property(name string) (*SchemaNode, bool) {
	if n == nil {
		return nil, false
	}
	for _, p := range n.Properties {
		if p.Name == name {
			return p.Schema, true
		}
	}
	return nil, false
}
