package codegen

import (
	"bytes"
	"log/slog"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	genspec "github.com/mark3labs/swagger2drf/internal/spec"
)

const (
	ViewsFile       = "views.py"
	RoutesFile      = "urls.py"
	SerializersFile = "serializers.py"

	adminRoute = "path('admin/', admin.site.urls)"
)

// Artifact is one generated Python module.
type Artifact struct {
	Name  string
	Lines []string
}

func (a Artifact) Text() string { return strings.Join(a.Lines, "\n") + "\n" }

const disclaimer = `"""
Do NOT modify this file. It was automatically generated from the Swagger specification.
"""
`

var headers = template.Must(template.New("views").Parse(disclaimer + `
from rest_framework.views import APIView
from rest_framework.response import Response
{{- if .Serializers}}

from .serializers import *
{{- end}}
from . import {{.Module}} as implemented_handlers
{{- if .Auth}}
from .{{.Module}} import {{.Verifier}}
{{- end}}


def {{.Lookup}}(name):
    handler = getattr(implemented_handlers, name, None)
    if handler is not None and callable(handler):
        return handler
    return None
`))

func init() {
	template.Must(headers.New("urls").Parse(disclaimer + `
from django.contrib import admin
from django.urls import path

from .views import *
`))
	template.Must(headers.New("serializers").Parse(disclaimer + `
from rest_framework import serializers
`))
}

func renderHeader(name string, data any) ([]string, error) {
	var buf bytes.Buffer
	if err := headers.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, errors.Wrapf(err, "render %s header", name)
	}
	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n"), nil
}

// ViewsArtifact renders views.py. withSerializers adds the serializers import
// used by body extraction.
func ViewsArtifact(views []View, withSerializers bool, opts Options) (Artifact, error) {
	opts = opts.withDefaults()
	auth := false
	for _, v := range views {
		auth = auth || v.RequiresAuth
	}
	lines, err := renderHeader("views", struct {
		Serializers, Auth        bool
		Module, Verifier, Lookup string
	}{withSerializers, auth, opts.HandlersModule, opts.TokenVerifier, handlerLookup})
	if err != nil {
		return Artifact{}, err
	}
	for _, v := range views {
		lines = append(lines, "", "")
		lines = append(lines, v.Lines()...)
	}
	return Artifact{Name: ViewsFile, Lines: lines}, nil
}

// RoutesArtifact renders urls.py from routes already in registration order.
func RoutesArtifact(routes []Route) (Artifact, error) {
	lines, err := renderHeader("urls", nil)
	if err != nil {
		return Artifact{}, err
	}
	lines = append(lines, "", "urlpatterns = [", indent+adminRoute+",")
	for _, p := range Patterns(routes) {
		lines = append(lines, indent+p+",")
	}
	lines = append(lines, "]")
	return Artifact{Name: RoutesFile, Lines: lines}, nil
}

// SerializersArtifact renders serializers.py: the classes in order, then the
// late field attachments.
func SerializersArtifact(classes []SerializerClass) (Artifact, error) {
	lines, err := renderHeader("serializers", nil)
	if err != nil {
		return Artifact{}, err
	}
	var late []string
	for _, c := range classes {
		lines = append(lines, "", "")
		lines = append(lines, c.Lines()...)
		late = append(late, c.LateLines()...)
	}
	if len(late) > 0 {
		lines = append(lines, "", "")
		lines = append(lines, late...)
	}
	return Artifact{Name: SerializersFile, Lines: lines}, nil
}

// Bundle holds the three modules generated for one contract.
type Bundle struct {
	Views       Artifact
	Routes      Artifact
	Serializers Artifact
}

// Artifacts returns the modules in write order.
func (b *Bundle) Artifacts() []Artifact {
	return []Artifact{b.Views, b.Routes, b.Serializers}
}

// Generate runs the whole synthesis for c.
func Generate(c *genspec.Contract, opts Options) (*Bundle, error) {
	if c == nil {
		return nil, errors.New("codegen: nil contract")
	}
	opts = opts.withDefaults()
	log := opts.Logger.With(slog.String("contract", c.Title))

	classes, err := BuildSerializers(c.Definitions, opts.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "build serializers")
	}
	views, err := BuildViews(c, opts)
	if err != nil {
		return nil, errors.Wrap(err, "build views")
	}
	tree, err := BuildRouteTree(c.Paths, c.BasePath)
	if err != nil {
		return nil, errors.Wrap(err, "build routes")
	}
	routes := OrderRoutes(tree)
	log.Debug("synthesized", "serializers", len(classes), "views", len(views), "routes", len(routes))

	b := &Bundle{}
	withSerializers := opts.BodySerializers == SerializersOn && len(classes) > 0
	if b.Views, err = ViewsArtifact(views, withSerializers, opts); err != nil {
		return nil, err
	}
	if b.Routes, err = RoutesArtifact(routes); err != nil {
		return nil, err
	}
	if b.Serializers, err = SerializersArtifact(classes); err != nil {
		return nil, err
	}
	return b, nil
}
