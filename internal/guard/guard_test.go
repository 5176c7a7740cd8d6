package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardRejectsReentry(t *testing.T) {
	g := New()

	release, err := g.Acquire("workspace", "user-1")
	require.NoError(t, err)

	_, err = g.Acquire("workspace", "user-1")
	assert.Error(t, err)

	release()

	release2, err := g.Acquire("workspace", "user-1")
	require.NoError(t, err)
	release2()
}

func TestGuardScopesAreIndependent(t *testing.T) {
	g := New()

	release, err := g.Acquire("workspace", "user-1")
	require.NoError(t, err)
	defer release()

	release2, err := g.Acquire("document", "user-1")
	require.NoError(t, err)
	defer release2()

	release3, err := g.Acquire("workspace", "user-2")
	require.NoError(t, err)
	defer release3()
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	g := New()

	release, err := g.Acquire("tasks", "user-1")
	require.NoError(t, err)
	release()
	release()

	_, err = g.Acquire("tasks", "user-1")
	assert.NoError(t, err)
}
