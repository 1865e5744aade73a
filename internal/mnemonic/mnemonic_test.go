package mnemonic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestDeriveMasterKeyDeterministic(t *testing.T) {
	t.Parallel()
	k1, err := DeriveMasterKey(testMnemonic)
	require.NoError(t, err)
	k2, err := DeriveMasterKey(testMnemonic)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, MasterKeySize)
}

func TestDeriveMasterKeyNormalizesCaseAndWhitespace(t *testing.T) {
	t.Parallel()
	k1, err := DeriveMasterKey(testMnemonic)
	require.NoError(t, err)
	k2, err := DeriveMasterKey("  ABANDON abandon  abandon abandon abandon abandon abandon abandon abandon abandon abandon ABOUT ")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestDeriveMasterKeyDifferentMnemonicsDiffer(t *testing.T) {
	t.Parallel()
	other := "legal winner thank year wave sausage worth useful legal winner thank yellow"
	k1, err := DeriveMasterKey(testMnemonic)
	require.NoError(t, err)
	k2, err := DeriveMasterKey(other)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestValidateRejectsBadWordCount(t *testing.T) {
	t.Parallel()
	err := Validate("only four words here")
	require.Error(t, err)
}

func TestValidateRejectsBadChecksum(t *testing.T) {
	t.Parallel()
	bad := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon"
	err := Validate(bad)
	require.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b c", Normalize("  A   b  C "))
}
