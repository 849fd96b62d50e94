package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateParamsHash_Stable(t *testing.T) {
	params := map[string]interface{}{
		"waterLevel": 4.5,
		"station":    "Chisapani",
		"phase":      "ACTIVATION",
	}

	h1, err := GenerateParamsHash(params, "salt")
	require.NoError(t, err)
	h2, err := GenerateParamsHash(params, "salt")
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestGenerateParamsHash_KeyOrderIndependent(t *testing.T) {
	// maps built in different insertion orders must hash identically
	a := map[string]interface{}{}
	a["station"] = "Chisapani"
	a["waterLevel"] = 4.5

	b := map[string]interface{}{}
	b["waterLevel"] = 4.5
	b["station"] = "Chisapani"

	ha, err := GenerateParamsHash(a, "salt")
	require.NoError(t, err)
	hb, err := GenerateParamsHash(b, "salt")
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
}

func TestGenerateParamsHash_SaltChangesHash(t *testing.T) {
	params := map[string]interface{}{"station": "Chisapani"}

	h1, err := GenerateParamsHash(params, "salt-a")
	require.NoError(t, err)
	h2, err := GenerateParamsHash(params, "salt-b")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestGenerateParamsHash_ValueChangesHash(t *testing.T) {
	h1, err := GenerateParamsHash(map[string]interface{}{"waterLevel": 4.5}, "salt")
	require.NoError(t, err)
	h2, err := GenerateParamsHash(map[string]interface{}{"waterLevel": 4.6}, "salt")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestGenerateParamsHash_NullAndEmpty(t *testing.T) {
	h, err := GenerateParamsHash(map[string]interface{}{"threshold": nil}, "salt")
	require.NoError(t, err)
	assert.Len(t, h, 64)

	hEmpty, err := GenerateParamsHash(map[string]interface{}{}, "salt")
	require.NoError(t, err)
	assert.NotEqual(t, h, hEmpty)
}

func TestGenerateParamsHash_RejectsUnserializable(t *testing.T) {
	_, err := GenerateParamsHash(map[string]interface{}{"bad": make(chan int)}, "salt")
	assert.Error(t, err)
}

func TestCanonicalTopLevelJSON(t *testing.T) {
	out, err := canonicalTopLevelJSON(map[string]interface{}{
		"b": 2,
		"a": "x",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":2}`, out)
}
