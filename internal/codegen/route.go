package codegen

import (
	"fmt"
	"regexp"
	"strings"

	genspec "github.com/mark3labs/swagger2drf/internal/spec"
)

// Route is one urlpatterns entry.
type Route struct {
	URL  string // Django path() route, e.g. "api/items/<str:id>/"
	View string // view class name
	Name string // reverse-lookup name
}

func (r Route) Pattern() string {
	return fmt.Sprintf("path(%s, %s.as_view(), name=\"%s\")", pyString(r.URL), r.View, r.Name)
}

// RouteNode is a node of the URL trie, keyed by literal or templated path
// segment. Route is set on nodes where a contract path ends.
type RouteNode struct {
	Segment string
	Route   *Route

	children []*RouteNode
	index    map[string]*RouteNode
}

// Children returns the child nodes in insertion order.
func (n *RouteNode) Children() []*RouteNode { return n.children }

func (n *RouteNode) child(segment string) *RouteNode {
	if c, ok := n.index[segment]; ok {
		return c
	}
	if n.index == nil {
		n.index = map[string]*RouteNode{}
	}
	c := &RouteNode{Segment: segment}
	n.index[segment] = c
	n.children = append(n.children, c)
	return c
}

// BuildRouteTree inserts every path, prefixed by basePath, into a new trie.
// Two paths ending on the same node, such as "/a" and "/a/", fail with
// *NameCollisionError.
func BuildRouteTree(paths []genspec.PathEntry, basePath string) (*RouteNode, error) {
	root := &RouteNode{}
	base := splitSegments(basePath)
	reg := NewRegistry()
	for _, entry := range paths {
		segments := append(append([]string(nil), base...), splitSegments(entry.Path)...)
		if err := reg.Claim("/"+strings.Join(segments, "/"), entry.Path); err != nil {
			return nil, err
		}
		node := root
		for _, s := range segments {
			node = node.child(s)
		}
		id := ViewIdentifier(entry.Path)
		node.Route = &Route{
			URL:  routeURL(segments),
			View: ViewClassName(id),
			Name: ViewClassName(id),
		}
	}
	return root, nil
}

// OrderRoutes flattens the trie depth first. At every node the routes below
// its children come before the node's own route, so a shallow route with a
// variable segment never shadows a deeper, more specific one.
func OrderRoutes(root *RouteNode) []Route {
	var out []Route
	for _, c := range root.children {
		out = append(out, OrderRoutes(c)...)
	}
	if root.Route != nil {
		out = append(out, *root.Route)
	}
	return out
}

func Patterns(routes []Route) []string {
	out := make([]string, 0, len(routes))
	for _, r := range routes {
		out = append(out, r.Pattern())
	}
	return out
}

func splitSegments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

var templateVar = regexp.MustCompile(`\{[^{}]+\}`)

// routeURL rewrites "{name}" segments into Django's "<str:name>" converter.
func routeURL(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = templateVar.ReplaceAllStringFunc(s, func(m string) string {
			return "<str:" + PyLocal(m[1:len(m)-1]) + ">"
		})
	}
	return strings.Join(parts, "/") + "/"
}
