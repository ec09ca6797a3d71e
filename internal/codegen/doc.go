// Package codegen synthesizes the Python modules of a Django REST Framework
// app from a normalized contract: serializers from schema definitions, one
// APIView per path, and the url patterns ordered so that deeper routes are
// registered before shallower ones. It performs no I/O.
package codegen
