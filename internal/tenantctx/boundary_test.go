package tenantctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/changeops/internal/errs"
)

func TestBoundary_ValidateRelativePath(t *testing.T) {
	b := NewBoundary(".")

	rel, err := b.Validate("ops.json")
	require.NoError(t, err)
	assert.Equal(t, "ops.json", rel)
}

func TestBoundary_ValidateNestedPath(t *testing.T) {
	b := NewBoundary("/srv/module")

	rel, err := b.Validate("workflows/triage.json")
	require.NoError(t, err)
	assert.Equal(t, "workflows/triage.json", rel)
}

func TestBoundary_RejectsAbsolutePath(t *testing.T) {
	b := NewBoundary("/srv/module")

	_, err := b.Validate("/etc/passwd")
	require.Error(t, err)
	assert.Equal(t, errs.CodeModuleBoundaryEscape, errs.CodeOf(err))
}

func TestBoundary_RejectsParentTraversal(t *testing.T) {
	b := NewBoundary("/srv/module")

	_, err := b.Validate("../secrets.json")
	require.Error(t, err)
	assert.Equal(t, errs.CodeModuleBoundaryEscape, errs.CodeOf(err))
}

func TestBoundary_RejectsEmbeddedParentTraversal(t *testing.T) {
	b := NewBoundary("/srv/module")

	_, err := b.Validate("workflows/../../secrets.json")
	require.Error(t, err)
	assert.Equal(t, errs.CodeModuleBoundaryEscape, errs.CodeOf(err))
}

func TestBoundary_AllowRestrictsToGlob(t *testing.T) {
	b := NewBoundary(".").WithAllow("workflows/**")

	_, err := b.Validate("forms/intake.json")
	require.Error(t, err)
	assert.Equal(t, errs.CodeModuleBoundaryEscape, errs.CodeOf(err))

	rel, err := b.Validate("workflows/triage.json")
	require.NoError(t, err)
	assert.Equal(t, "workflows/triage.json", rel)
}
