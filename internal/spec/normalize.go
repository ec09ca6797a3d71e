package spec

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	openapi2 "github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi3"
)

// BuildOption configures how the Contract is built from a loaded document.
type BuildOption func(*buildConfig)

type buildConfig struct {
	includeTags map[string]struct{}
	excludeTags map[string]struct{}
	methods     map[HttpMethod]struct{}
	pathRes     []*regexp.Regexp
	authHeader  string
	basePath    *string
}

// WithIncludeTags keeps only operations that have at least one of the given tags.
func WithIncludeTags(tags []string) BuildOption {
	return func(c *buildConfig) {
		if len(tags) == 0 {
			return
		}
		if c.includeTags == nil {
			c.includeTags = make(map[string]struct{}, len(tags))
		}
		for _, t := range tags {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			c.includeTags[t] = struct{}{}
		}
	}
}

// WithExcludeTags removes operations that have any of the given tags.
func WithExcludeTags(tags []string) BuildOption {
	return func(c *buildConfig) {
		if len(tags) == 0 {
			return
		}
		if c.excludeTags == nil {
			c.excludeTags = make(map[string]struct{}, len(tags))
		}
		for _, t := range tags {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			c.excludeTags[t] = struct{}{}
		}
	}
}

// WithMethods keeps only operations using one of the provided HTTP methods.
func WithMethods(methods []HttpMethod) BuildOption {
	return func(c *buildConfig) {
		if len(methods) == 0 {
			return
		}
		if c.methods == nil {
			c.methods = make(map[HttpMethod]struct{}, len(methods))
		}
		for _, m := range methods {
			c.methods[m] = struct{}{}
		}
	}
}

// WithPathPatterns keeps only paths matching at least one of the provided
// regular expressions. An invalid pattern never matches.
func WithPathPatterns(patterns []string) BuildOption {
	return func(c *buildConfig) {
		for _, p := range patterns {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			re, err := regexp.Compile(p)
			if err != nil {
				re = regexp.MustCompile("a^$")
			}
			c.pathRes = append(c.pathRes, re)
		}
	}
}

// WithAuthHeader changes the header parameter name that marks an operation as
// requiring authentication. Defaults to DefaultAuthHeader.
func WithAuthHeader(name string) BuildOption {
	return func(c *buildConfig) {
		if name = strings.TrimSpace(name); name != "" {
			c.authHeader = name
		}
	}
}

// WithBasePath overrides the basePath declared by the document.
func WithBasePath(basePath string) BuildOption {
	return func(c *buildConfig) {
		c.basePath = &basePath
	}
}

// BuildContract converts a loaded document into the Contract consumed by the
// code generators. Paths, operations, definitions and properties keep the key
// order of the source document.
//
// Dangling schema refs, unresolvable parameter refs and paths without
// operations are reported as ValidationError; generators assume none remain.
func BuildContract(ctx context.Context, doc *Document, opts ...BuildOption) (*Contract, error) {
	_ = ctx
	if doc == nil || doc.Swagger == nil {
		return nil, fmt.Errorf("nil document")
	}

	cfg := &buildConfig{authHeader: DefaultAuthHeader}
	for _, opt := range opts {
		opt(cfg)
	}

	sw := doc.Swagger
	b := &builder{doc: doc, order: doc.order}
	c := &Contract{
		Title:    safeStr(sw.Info.Title),
		Version:  safeStr(sw.Info.Version),
		BasePath: safeStr(sw.BasePath),
	}
	if cfg.basePath != nil {
		c.BasePath = safeStr(*cfg.basePath)
	}

	for _, name := range orderedKeys(b.order, "/definitions", sw.Definitions) {
		ptr := "/definitions/" + escapePointer(name)
		node := b.schema(sw.Definitions[name], ptr)
		if node == nil {
			node = &SchemaNode{Kind: KindUnknown}
		}
		c.Definitions = append(c.Definitions, Definition{Name: name, Schema: node})
	}

	for _, p := range orderedKeys(b.order, "/paths", sw.Paths) {
		item := sw.Paths[p]
		if item == nil {
			continue
		}
		pathPtr := "/paths/" + escapePointer(p)
		ops := operationsOf(item)
		if len(ops) == 0 {
			return nil, &SpecError{
				Code:        ValidationError,
				Message:     fmt.Sprintf("spec: path %q declares no operations", p),
				Location:    doc.Location,
				JSONPointer: "#" + pathPtr,
			}
		}
		if !matchesPath(p, cfg) {
			continue
		}

		baseParams, err := b.parameters(item.Parameters, pathPtr+"/parameters")
		if err != nil {
			return nil, err
		}

		entry := PathEntry{Path: p}
		for _, m := range orderedKeys(b.order, pathPtr, ops) {
			op := ops[m]
			method := HttpMethod(m)
			if len(cfg.methods) > 0 {
				if _, ok := cfg.methods[method]; !ok {
					continue
				}
			}
			tags := make([]string, 0, len(op.Tags))
			for _, t := range op.Tags {
				if t = strings.TrimSpace(t); t != "" {
					tags = append(tags, t)
				}
			}
			if !allowByTags(tags, cfg) {
				continue
			}

			opParams, err := b.parameters(op.Parameters, pathPtr+"/"+m+"/parameters")
			if err != nil {
				return nil, err
			}
			params := mergeParameters(baseParams, opParams)
			entry.Operations = append(entry.Operations, Operation{
				Method:       method,
				OperationID:  safeStr(op.OperationID),
				Summary:      safeStr(op.Summary),
				Tags:         tags,
				Parameters:   params,
				RequiresAuth: requiresAuth(params, cfg.authHeader),
			})
		}
		if len(entry.Operations) > 0 {
			c.Paths = append(c.Paths, entry)
		}
	}

	for _, site := range b.refs {
		if _, ok := sw.Definitions[site.name]; !ok {
			return nil, &SpecError{
				Code:        ValidationError,
				Message:     fmt.Sprintf("spec: reference to unknown definition %q", site.name),
				Location:    doc.Location,
				JSONPointer: "#" + site.ptr,
			}
		}
	}

	return c, nil
}

type refSite struct {
	name string
	ptr  string
}

type builder struct {
	doc   *Document
	order keyOrder
	refs  []refSite
}

func (b *builder) schema(ref *openapi3.SchemaRef, ptr string) *SchemaNode {
	if ref == nil {
		return nil
	}
	if ref.Ref != "" {
		name := refName(ref.Ref)
		b.refs = append(b.refs, refSite{name: name, ptr: ptr})
		return &SchemaNode{Kind: KindRef, Ref: name}
	}
	s := ref.Value
	if s == nil {
		return &SchemaNode{Kind: KindUnknown}
	}
	n := &SchemaNode{
		Type:        safeStr(s.Type),
		Format:      safeStr(s.Format),
		Description: safeStr(s.Description),
		Required:    append([]string(nil), s.Required...),
	}
	switch n.Type {
	case "object":
		n.Kind = KindObject
	case "array":
		n.Kind = KindArray
	case "string":
		n.Kind = KindString
	case "boolean":
		n.Kind = KindBoolean
	case "integer":
		n.Kind = KindInteger
	case "":
		// Properties without a declared type still describe an object.
		if len(s.Properties) > 0 {
			n.Kind = KindObject
		} else {
			n.Kind = KindUnknown
		}
	default:
		n.Kind = KindUnknown
	}
	switch n.Kind {
	case KindObject:
		propsPtr := ptr + "/properties"
		for _, name := range orderedKeys(b.order, propsPtr, s.Properties) {
			child := b.schema(s.Properties[name], propsPtr+"/"+escapePointer(name))
			if child == nil {
				child = &SchemaNode{Kind: KindUnknown}
			}
			n.Properties = append(n.Properties, Property{Name: name, Schema: child})
		}
	case KindArray:
		n.Items = b.schema(s.Items, ptr+"/items")
	}
	return n
}

func (b *builder) parameters(params openapi2.Parameters, ptr string) ([]Parameter, error) {
	out := make([]Parameter, 0, len(params))
	for i, p := range params {
		if p == nil {
			continue
		}
		itemPtr := fmt.Sprintf("%s/%d", ptr, i)
		if p.Ref != "" {
			shared := refName(p.Ref)
			resolved, ok := b.doc.Swagger.Parameters[shared]
			if !ok || resolved == nil {
				return nil, &SpecError{
					Code:        ValidationError,
					Message:     fmt.Sprintf("spec: unresolved parameter reference %q", p.Ref),
					Location:    b.doc.Location,
					JSONPointer: "#" + itemPtr,
				}
			}
			p = resolved
			itemPtr = "/parameters/" + escapePointer(shared)
		}
		pm := Parameter{
			Name:     safeStr(p.Name),
			In:       ParamLocation(safeStr(p.In)),
			Required: p.Required,
		}
		if pm.In == InBody {
			pm.Schema = b.schema(p.Schema, itemPtr+"/schema")
		}
		out = append(out, pm)
	}
	return out, nil
}

// mergeParameters overlays operation-level parameters on path-level ones. An
// override keeps the position of the parameter it replaces.
func mergeParameters(base, op []Parameter) []Parameter {
	out := make([]Parameter, 0, len(base)+len(op))
	out = append(out, base...)
	index := make(map[string]int, len(out))
	for i, p := range out {
		index[paramKey(p.In, p.Name)] = i
	}
	for _, p := range op {
		k := paramKey(p.In, p.Name)
		if i, ok := index[k]; ok {
			out[i] = p
			continue
		}
		index[k] = len(out)
		out = append(out, p)
	}
	return out
}

func requiresAuth(params []Parameter, header string) bool {
	for _, p := range params {
		if p.In == InHeader && p.Name == header {
			return true
		}
	}
	return false
}

func operationsOf(item *openapi2.PathItem) map[string]*openapi2.Operation {
	ops := make(map[string]*openapi2.Operation, len(knownMethods))
	for _, m := range knownMethods {
		var op *openapi2.Operation
		switch m {
		case GET:
			op = item.Get
		case PUT:
			op = item.Put
		case POST:
			op = item.Post
		case DELETE:
			op = item.Delete
		case OPTIONS:
			op = item.Options
		case HEAD:
			op = item.Head
		case PATCH:
			op = item.Patch
		}
		if op != nil {
			ops[string(m)] = op
		}
	}
	return ops
}

func matchesPath(p string, cfg *buildConfig) bool {
	if len(cfg.pathRes) == 0 {
		return true
	}
	for _, re := range cfg.pathRes {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

func allowByTags(tags []string, cfg *buildConfig) bool {
	if len(cfg.includeTags) > 0 {
		ok := false
		for _, t := range tags {
			if _, yes := cfg.includeTags[t]; yes {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, t := range tags {
		if _, blocked := cfg.excludeTags[t]; blocked {
			return false
		}
	}
	return true
}

// refName returns the last segment of a JSON reference, which names the
// definition or shared parameter it points at.
func refName(ref string) string {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

func paramKey(in ParamLocation, name string) string { return string(in) + ":" + name }

func safeStr(s string) string { return strings.TrimSpace(s) }
