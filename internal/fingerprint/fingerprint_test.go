package fingerprint

import (
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHeader(t *testing.T) {
	cases := map[string]string{
		"First Name":              "first name",
		"  Città   di\tNascita  ": "citta di nascita",
		"E-MAIL":                  "e-mail",
		"Straße":                  "strasse",
		"ﬁrst":                    "first",
		"":                        "",
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeHeader(raw), "raw %q", raw)
	}
}

func TestNormalizeKeepsLengthAndOrder(t *testing.T) {
	raw := []string{"Name", "", "NAME", " e-mail "}
	got := Normalize(raw)
	assert.Equal(t, []string{"name", "", "name", "e-mail"}, got)
}

func TestHashWireFormat(t *testing.T) {
	digest, err := Hash([]string{"first name", "e-mail", "città <hq>"}, AlgorithmSHA256)
	require.NoError(t, err)
	assert.Equal(t, "541f694a3e7d7ebfadd78a0227bd03dfc0f78fc2e60fc228af551399abd85e1d", digest)

	md5Digest, err := Hash([]string{"first name", "e-mail", "città <hq>"}, "MD5")
	require.NoError(t, err)
	assert.Equal(t, "9e75e0f35ea223bcab0f278edf82bae4", md5Digest)

	empty, err := Hash(nil, "")
	require.NoError(t, err)
	assert.Equal(t, "4f53cda18c2baa0c0354bb5f9a3ecbe5ed12ab4d8e11ba873c2f11161202b945", empty)
}

func TestHashDeterministicAndOrderSensitive(t *testing.T) {
	headers := []string{"first name", "last name", "email"}
	for _, algorithm := range Algorithms() {
		first, err := Hash(headers, algorithm)
		require.NoError(t, err)
		second, err := Hash(append([]string(nil), headers...), algorithm)
		require.NoError(t, err)
		assert.Equal(t, first, second, algorithm)

		permuted, err := Hash([]string{"last name", "first name", "email"}, algorithm)
		require.NoError(t, err)
		assert.NotEqual(t, first, permuted, algorithm)
	}
}

func TestHashDoesNotConfuseBoundaries(t *testing.T) {
	a, err := Hash([]string{"a,b", "c"}, AlgorithmSHA256)
	require.NoError(t, err)
	b, err := Hash([]string{"a", "b,c"}, AlgorithmSHA256)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHashUnknownAlgorithm(t *testing.T) {
	_, err := Hash([]string{"a"}, "crc32")
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestComputeNormalizesFirst(t *testing.T) {
	a, err := Compute([]string{"First Name", "E-Mail"}, "")
	require.NoError(t, err)
	b, err := Compute([]string{" first  name ", "e-mail"}, AlgorithmSHA256)
	require.NoError(t, err)

	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, AlgorithmSHA256, a.Algorithm)
	assert.Equal(t, NormalizerV1, a.Normalizer)
	assert.Equal(t, []string{"First Name", "E-Mail"}, a.Headers)
	assert.Equal(t, []string{"first name", "e-mail"}, a.NormalizedHeaders)
}

func TestMatches(t *testing.T) {
	normalized := []string{"name", "email"}
	digest, err := Hash(normalized, AlgorithmXXH64)
	require.NoError(t, err)
	assert.Len(t, digest, 16)

	ok, recomputed, err := Matches(normalized, AlgorithmXXH64, digest)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, digest, recomputed)

	ok, _, err = Matches([]string{"email", "name"}, AlgorithmXXH64, digest)
	require.NoError(t, err)
	assert.False(t, ok)
}
