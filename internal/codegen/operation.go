package codegen

import (
	"fmt"
	"log/slog"
	"strings"

	genspec "github.com/mark3labs/swagger2drf/internal/spec"
)

// SerializerMode selects how body parameters reach the handler.
type SerializerMode string

const (
	// SerializersOff passes the request through and skips body extraction.
	SerializersOff SerializerMode = "off"
	// SerializersOn validates each body parameter with its serializer and
	// passes the validated data instead of the request.
	SerializersOn SerializerMode = "on"
)

func ParseSerializerMode(s string) (SerializerMode, error) {
	switch SerializerMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", SerializersOff:
		return SerializersOff, nil
	case SerializersOn:
		return SerializersOn, nil
	}
	return "", fmt.Errorf("unknown body serializer mode %q (allowed: off, on)", s)
}

const (
	DefaultHandlersModule = "api_implementation"
	DefaultTokenVerifier  = "verifyToken"
	handlerLookup         = "findHandler"
	indent                = "    "
)

// Options tunes the generated code. The zero value is usable.
type Options struct {
	BodySerializers SerializerMode
	// HandlersModule is the sibling Python module holding handler functions.
	HandlersModule string
	// TokenVerifier is the function in HandlersModule guarding authenticated
	// operations.
	TokenVerifier string
	Logger        *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BodySerializers == "" {
		o.BodySerializers = SerializersOff
	}
	if o.HandlersModule == "" {
		o.HandlersModule = DefaultHandlersModule
	}
	if o.TokenVerifier == "" {
		o.TokenVerifier = DefaultTokenVerifier
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Method is one generated view method.
type Method struct {
	Name string
	// Args follow self and request in the signature: the path variables.
	Args []string
	Body []string
}

func (m Method) Lines() []string {
	params := append([]string{"self", "request"}, m.Args...)
	lines := []string{fmt.Sprintf("def %s(%s):", m.Name, strings.Join(params, ", "))}
	for _, l := range m.Body {
		lines = append(lines, indent+l)
	}
	return lines
}

// SynthesizeMethod emits the view method serving op on the view identified by
// viewID. The body binds every parameter the handler receives (header, query
// and formData always, body only with SerializersOn), guards authenticated
// operations, then dispatches to the handler registered under HandlerKey,
// answering 204 when none is registered.
func SynthesizeMethod(op genspec.Operation, viewID string, opts Options) Method {
	opts = opts.withDefaults()

	var path, all, nonBody []string
	var headerParams, queryParams, formParams, bodyParams []genspec.Parameter
	for _, p := range op.Parameters {
		name := PyLocal(p.Name)
		all = append(all, name)
		switch p.In {
		case genspec.InPath:
			path = append(path, name)
		case genspec.InHeader:
			headerParams = append(headerParams, p)
		case genspec.InQuery:
			queryParams = append(queryParams, p)
		case genspec.InFormData:
			formParams = append(formParams, p)
		case genspec.InBody:
			bodyParams = append(bodyParams, p)
		}
		if p.In != genspec.InBody {
			nonBody = append(nonBody, name)
		}
	}

	var code []string
	code = append(code, extraction(headerParams, "request.headers")...)
	code = append(code, extraction(queryParams, "request.query_params")...)
	code = append(code, extraction(formParams, "request.data")...)
	if opts.BodySerializers == SerializersOn {
		for _, p := range bodyParams {
			code = append(code, bodyExtraction(p)...)
		}
	}
	if op.RequiresAuth {
		code = append(code,
			fmt.Sprintf("if not %s(request):", opts.TokenVerifier),
			indent+"return Response(status=401)",
		)
	}

	var args []string
	if opts.BodySerializers == SerializersOn {
		args = all
	} else {
		args = append([]string{"request"}, nonBody...)
	}
	code = append(code,
		fmt.Sprintf("handler = %s(%s)", handlerLookup, pyString(HandlerKey(viewID, op.Method))),
		"if handler is not None:",
		indent+fmt.Sprintf("return handler(%s)", strings.Join(args, ", ")),
		"return Response(status=204)",
	)

	return Method{Name: string(op.Method), Args: path, Body: code}
}

// extraction binds each parameter to a local read by wire name from source.
func extraction(params []genspec.Parameter, source string) []string {
	lines := make([]string, 0, len(params))
	for _, p := range params {
		lines = append(lines, fmt.Sprintf("%s = %s.get(%s)", PyLocal(p.Name), source, pyString(p.Name)))
	}
	return lines
}

func bodyExtraction(p genspec.Parameter) []string {
	name := PyLocal(p.Name)
	if p.Schema == nil || p.Schema.Kind != genspec.KindRef {
		return []string{name + " = request.data"}
	}
	s := name + serializerSuffix
	return []string{
		fmt.Sprintf("%s = %s(data=request.data)", s, Qualify(Root(p.Schema.Ref))),
		name + " = None",
		fmt.Sprintf("if %s.is_valid():", s),
		indent + fmt.Sprintf("%s = %s.validated_data", name, s),
	}
}

// pyString renders s as a single-quoted Python string literal.
func pyString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
