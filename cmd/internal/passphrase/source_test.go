package passphrase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceReadsEnvironment(t *testing.T) {
	t.Setenv("OPENRATE_TEST_PASS", "correct horse")
	src := NewSource("OPENRATE_TEST_PASS")
	value, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "correct horse", value)

	t.Setenv("OPENRATE_TEST_PASS", "changed")
	value, err = src.Get()
	require.NoError(t, err)
	require.Equal(t, "correct horse", value, "value is cached")
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("OPENRATE_TEST_PASS", "   ")
	_, err := NewConfirmingSource("OPENRATE_TEST_PASS").Get()
	require.ErrorContains(t, err, "set but empty")
}
