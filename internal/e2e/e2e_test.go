package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	cli "github.com/mark3labs/swagger2drf/internal/cli"
)

// Swagger 2.0 sample exercising refs, nested objects, arrays, nested routes,
// self-referencing definitions and names that are not Python identifiers.
const petstoreSpec = `swagger: "2.0"
info:
  title: E2E Pet Store
  version: "1.0.0"
basePath: /api
parameters:
  Token:
    in: header
    name: token
    type: string
paths:
  /pets:
    get:
      tags: [read]
      responses:
        200:
          description: ok
    post:
      tags: [write]
      parameters:
        - $ref: '#/parameters/Token'
        - in: body
          name: pet
          schema:
            $ref: '#/definitions/Pet'
      responses:
        201:
          description: created
  /pets/{petId}:
    parameters:
      - in: path
        name: petId
        required: true
        type: string
    get:
      tags: [read]
      responses:
        200:
          description: ok
    delete:
      tags: [write]
      parameters:
        - $ref: '#/parameters/Token'
      responses:
        204:
          description: gone
  /pets/{petId}/toys:
    parameters:
      - in: path
        name: petId
        required: true
        type: string
    get:
      tags: [read]
      parameters:
        - in: query
          name: limit
          type: integer
      responses:
        200:
          description: ok
  /user-profile:
    get:
      tags: [read]
      responses:
        200:
          description: ok
          schema:
            $ref: '#/definitions/models.User'
definitions:
  Pet:
    type: object
    properties:
      name:
        type: string
      owner:
        $ref: '#/definitions/Owner'
      collar:
        type: object
        properties:
          color:
            type: string
      tags:
        type: array
        items:
          type: string
      weight:
        type: number
  Owner:
    type: object
    properties:
      first-name:
        type: string
      verified:
        type: boolean
  Category:
    type: object
    properties:
      name:
        type: string
      parent:
        $ref: '#/definitions/Category'
  models.User:
    type: object
    properties:
      id:
        type: integer
      category:
        $ref: '#/definitions/Category'
`

const openapi3Spec = "" +
	"openapi: 3.0.0\n" +
	"info:\n" +
	"  title: E2E Sample\n" +
	"  version: '1.0.0'\n" +
	"paths:\n" +
	"  /pets:\n" +
	"    get:\n" +
	"      summary: List pets\n" +
	"      tags: [read]\n" +
	"      responses:\n" +
	"        '200':\n" +
	"          description: ok\n" +
	"          content:\n" +
	"            application/json:\n" +
	"              schema:\n" +
	"                type: array\n" +
	"                items:\n" +
	"                  type: string\n"

func writeTempSpec(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "swagger.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	return p
}

func runCLI(t *testing.T, args ...string) {
	t.Helper()
	root := cli.NewRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("cli execute %v: %v", args, err)
	}
}

func digestDir(t *testing.T, dir string) (files []string, sum string) {
	t.Helper()
	var list []string
	h := sha256.New()
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(dir, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		list = append(list, rel)
		// hash path + contents to be robust
		_, _ = h.Write([]byte(rel))
		b, rerr := os.ReadFile(path)
		if rerr != nil {
			return rerr
		}
		_, _ = h.Write(b)
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", dir, err)
	}
	sort.Strings(list)
	return list, hex.EncodeToString(h.Sum(nil))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func TestE2E_Generate_Deterministic(t *testing.T) {
	t.Parallel()
	spec := writeTempSpec(t, petstoreSpec)
	dir1 := t.TempDir()
	dir2 := t.TempDir()

	runCLI(t, "generate", "--input", spec, "--out", dir1, "--force")
	runCLI(t, "generate", "--input", spec, "--out", dir2, "--force")

	files1, sum1 := digestDir(t, dir1)
	files2, sum2 := digestDir(t, dir2)
	if !slicesEqual(files1, files2) || sum1 != sum2 {
		t.Fatalf("generated outputs differ between runs\nfiles1=%v\nfiles2=%v\nsum1=%s\nsum2=%s", files1, files2, sum1, sum2)
	}
	if want := []string{"serializers.py", "urls.py", "views.py"}; !slicesEqual(files1, want) {
		t.Fatalf("unexpected files: %v", files1)
	}
}

func TestE2E_Generate_Contents(t *testing.T) {
	t.Parallel()
	spec := writeTempSpec(t, petstoreSpec)
	dir := t.TempDir()
	runCLI(t, "generate", "--input", spec, "--out", dir, "--force", "--body-serializers", "on")

	urls := readFile(t, filepath.Join(dir, "urls.py"))
	toys := strings.Index(urls, "'api/pets/<str:petId>/toys/'")
	pet := strings.Index(urls, "'api/pets/<str:petId>/'")
	pets := strings.Index(urls, "'api/pets/'")
	admin := strings.Index(urls, "path('admin/', admin.site.urls)")
	if admin < 0 || toys < 0 || pet < 0 || pets < 0 {
		t.Fatalf("missing routes:\n%s", urls)
	}
	if !(admin < toys && toys < pet && pet < pets) {
		t.Fatalf("routes out of order:\n%s", urls)
	}

	views := readFile(t, filepath.Join(dir, "views.py"))
	for _, want := range []string{
		"from .api_implementation import verifyToken",
		"class api_petsView(APIView):",
		"        petSerializer = PetSerializer(data=request.data)",
		"            pet = petSerializer.validated_data",
		"    def delete(self, request, petId):",
		"        handler = findHandler('api_pets_petId_delete')",
		"            return handler(petId, token)",
		"        limit = request.query_params.get('limit')",
		"            return handler(petId, limit)",
		"class api_user_profileView(APIView):",
	} {
		if !strings.Contains(views, want) {
			t.Errorf("views.py missing %q\n%s", want, views)
		}
	}

	ser := readFile(t, filepath.Join(dir, "serializers.py"))
	owner := strings.Index(ser, "class OwnerSerializer(serializers.Serializer):")
	collar := strings.Index(ser, "class Pet__collarSerializer(serializers.Serializer):")
	petCls := strings.Index(ser, "class PetSerializer(serializers.Serializer):")
	if owner < 0 || collar < 0 || petCls < 0 || !(owner < collar && collar < petCls) {
		t.Fatalf("serializer classes out of order:\n%s", ser)
	}
	for _, want := range []string{
		"    name = serializers.CharField()",
		"    owner = OwnerSerializer()",
		"    collar = Pet__collarSerializer()",
		"    tags = serializers.ListField(child=serializers.CharField())",
		`    weight = serializers.JSONField(help_text="unresolved schema: weight (number)")`,
		"    first_name = serializers.CharField(source='first-name')",
		"    verified = serializers.BooleanField()",
		"class models_UserSerializer(serializers.Serializer):",
		"    category = CategorySerializer()",
		"CategorySerializer._declared_fields['parent'] = CategorySerializer()",
	} {
		if !strings.Contains(ser, want) {
			t.Errorf("serializers.py missing %q", want)
		}
	}

	if strings.Contains(ser, "    parent = CategorySerializer()") {
		t.Errorf("self reference inside the class body:\n%s", ser)
	}
	if strings.Index(ser, "class CategorySerializer(") > strings.Index(ser, "class models_UserSerializer(") {
		t.Errorf("referenced serializer defined after its user:\n%s", ser)
	}

	// Optional: byte-compile the modules when a Python interpreter is available
	if haveCmd("python3") {
		args := []string{"-m", "py_compile", "views.py", "urls.py", "serializers.py"}
		if err := runCmdWithTimeout(dir, 30*time.Second, "python3", args...); err != nil {
			t.Fatalf("generated python does not compile: %v", err)
		}
	}
}

// Minimal stand-ins for the Django and DRF names the generated modules import.
var pythonStubs = map[string]string{
	"django/__init__.py":         "",
	"django/contrib/__init__.py": "",
	"django/contrib/admin.py":    "class _Site:\n    urls = []\n\n\nsite = _Site()\n",
	"django/urls.py":             "def path(*args, **kwargs):\n    return args\n",
	"rest_framework/__init__.py": "",
	"rest_framework/views.py": "class APIView:\n" +
		"    @classmethod\n" +
		"    def as_view(cls):\n" +
		"        return cls\n",
	"rest_framework/response.py": "class Response:\n" +
		"    def __init__(self, status=200):\n" +
		"        self.status_code = status\n",
	"rest_framework/serializers.py": "class Field:\n" +
		"    def __init__(self, *args, **kwargs):\n" +
		"        self.kwargs = kwargs\n" +
		"\n\n" +
		"class SerializerMetaclass(type):\n" +
		"    def __new__(mcs, name, bases, attrs):\n" +
		"        declared = {}\n" +
		"        for base in bases:\n" +
		"            declared.update(getattr(base, '_declared_fields', {}))\n" +
		"        for key, value in list(attrs.items()):\n" +
		"            if isinstance(value, Field):\n" +
		"                declared[key] = attrs.pop(key)\n" +
		"        attrs['_declared_fields'] = declared\n" +
		"        return super().__new__(mcs, name, bases, attrs)\n" +
		"\n\n" +
		"class Serializer(Field, metaclass=SerializerMetaclass):\n" +
		"    pass\n" +
		"\n\n" +
		"CharField = BooleanField = IntegerField = JSONField = ListField = Field\n",
}

const importCheck = `import app.urls
import app.views as views
import app.serializers as serializers


class Request:
    headers = {}
    query_params = {'limit': '5'}
    data = {}


assert 'parent' in serializers.CategorySerializer._declared_fields
assert 'category' in serializers.models_UserSerializer._declared_fields
assert views.api_pets_petId_toysView().get(Request(), petId='7') == ('7', '5')
assert views.api_user_profileView().get(Request()).status_code == 204
`

func TestE2E_Generate_ModulesImport(t *testing.T) {
	t.Parallel()
	if !haveCmd("python3") {
		t.Skip("python3 not available")
	}
	spec := writeTempSpec(t, petstoreSpec)
	root := t.TempDir()
	app := filepath.Join(root, "app")
	runCLI(t, "generate", "--input", spec, "--out", app, "--body-serializers", "on")

	files := map[string]string{
		"app/__init__.py": "",
		"app/api_implementation.py": "def verifyToken(request):\n    return True\n\n\n" +
			"def api_pets_petId_toys_get(petId, limit):\n    return (petId, limit)\n",
	}
	for name, content := range pythonStubs {
		files[name] = content
	}
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := runCmdWithTimeout(root, 30*time.Second, "python3", "-B", "-c", importCheck); err != nil {
		t.Fatalf("generated modules fail at import: %v", err)
	}
}

func TestE2E_Generate_FilteredByTags(t *testing.T) {
	t.Parallel()
	spec := writeTempSpec(t, petstoreSpec)
	dir := t.TempDir()
	runCLI(t, "generate", "--input", spec, "--out", dir, "--force", "--exclude-tags", "write")

	views := readFile(t, filepath.Join(dir, "views.py"))
	if strings.Contains(views, "def post(") || strings.Contains(views, "def delete(") {
		t.Fatalf("write operations were not filtered:\n%s", views)
	}
	if strings.Contains(views, "verifyToken") {
		t.Fatalf("verifier imported although no remaining operation needs it:\n%s", views)
	}
}

func TestE2E_Generate_OpenAPI3Input(t *testing.T) {
	t.Parallel()
	spec := writeTempSpec(t, openapi3Spec)
	dir := t.TempDir()
	runCLI(t, "generate", "--input", spec, "--out", dir, "--force")

	urls := readFile(t, filepath.Join(dir, "urls.py"))
	if !strings.Contains(urls, `path('pets/', api_petsView.as_view(), name="api_petsView")`) {
		t.Fatalf("unexpected urls.py:\n%s", urls)
	}
}

func haveCmd(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func runCmdWithTimeout(dir string, timeout time.Duration, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return &execError{err: err, output: out.String()}
	}
	return nil
}

type execError struct {
	err    error
	output string
}

func (e *execError) Error() string { return e.err.Error() + ": " + e.output }

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
