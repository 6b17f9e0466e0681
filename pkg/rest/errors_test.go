package rest

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/edgeflare/restlet/pkg/query"
	"github.com/edgeflare/restlet/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))

	notFound := NotFound("user %d not found", 7)
	assert.Same(t, notFound, AsError(fmt.Errorf("lookup: %w", notFound)))
	assert.Equal(t, "user 7 not found", notFound.Message)

	lookup := AsError(fmt.Errorf("%w: created_at__year", query.ErrUnsupportedLookup))
	assert.Equal(t, http.StatusNotImplemented, lookup.Status)
	assert.Equal(t, "unsupported_lookup", lookup.Code)

	table := AsError(fmt.Errorf("%w: nope", schema.ErrTableNotFound))
	assert.Equal(t, http.StatusNotFound, table.Status)

	cause := errors.New("connection refused")
	internal := AsError(cause)
	assert.Equal(t, http.StatusInternalServerError, internal.Status)
	assert.ErrorIs(t, internal, cause)
	assert.NotEmpty(t, internal.Stack())
}

func TestErrorMessage(t *testing.T) {
	e := BadRequest("invalid fields").WithCode("invalid_field").WithField("age", "read-only field")
	assert.Equal(t, "400 Bad Request: invalid fields", e.Error())
	assert.Equal(t, "Bad Request", e.Reason())
	assert.Equal(t, map[string]string{"age": "read-only field"}, e.Fields)
	assert.Empty(t, e.Stack(), "only internal errors capture a stack")

	wrapped := InternalError("").Wrap(errors.New("boom"))
	assert.Equal(t, "500 Internal Server Error: boom", wrapped.Error())

	assert.Equal(t, "read only", Forbidden("read only").Message)
	assert.Equal(t, "100% done", Forbidden("%d%% done", 100).Message)
}

func TestConfigurationError(t *testing.T) {
	e := ConfigurationError("resource %s has no table", "Thing")
	require.NotNil(t, e)
	assert.Equal(t, http.StatusInternalServerError, e.Status)
	assert.Equal(t, "configuration", e.Code)
	assert.Equal(t, "resource Thing has no table", e.Message)
}
