package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest_DomainSeparation(t *testing.T) {
	v := IRObject{"counter": IRInt(5)}

	a, err := Digest(DomainSnapshot, v)
	require.NoError(t, err)
	b, err := Digest(DomainDocument, v)
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b, "same payload under different domains must differ")
}

func TestDigest_IgnoresKeyOrder(t *testing.T) {
	a := MustDigest(DomainValue, map[string]any{"a": 1, "b": 2})
	b := MustDigest(DomainValue, IRObject{"b": IRInt(2), "a": IRInt(1)})
	assert.Equal(t, a, b)
}

func TestValueDigest_KindSensitive(t *testing.T) {
	i, err := ValueDigest(IRInt(2))
	require.NoError(t, err)
	f, err := ValueDigest(IRFloat(2))
	require.NoError(t, err)
	assert.NotEqual(t, i, f)
}
