package canonjson

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeysAtEveryLevel(t *testing.T) {
	got, err := Marshal(map[string]any{
		"b": int64(1),
		"a": "x",
		"m": map[string]any{"z": true, "y": []any{"q", "p"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1,"m":{"y":["q","p"],"z":true}}`, string(got))
}

func TestMarshalPreservesNonASCII(t *testing.T) {
	got, err := Marshal(map[string]any{"title": "Tourniquet — Füße"})
	require.NoError(t, err)
	assert.Equal(t, `{"title":"Tourniquet — Füße"}`, string(got))
}

func TestMarshalEscapes(t *testing.T) {
	got, err := Marshal("a\"b\\c\nd\x01e")
	require.NoError(t, err)
	want := "\"a\\\"b\\\\c\\nd\\u0001e\""
	assert.Equal(t, want, string(got))
}

func TestMarshalIntegers(t *testing.T) {
	got, err := Marshal(map[string]any{"n": int64(42), "z": 0})
	require.NoError(t, err)
	assert.Equal(t, `{"n":42,"z":0}`, string(got))
}

func TestMarshalRejectsFloatsAndNull(t *testing.T) {
	_, err := Marshal(map[string]any{"x": 1.5})
	require.Error(t, err)

	_, err = Marshal(map[string]any{"x": nil})
	require.Error(t, err)
}

func TestMarshalNoTrailingNewline(t *testing.T) {
	got, err := Marshal(map[string]any{"a": "b"})
	require.NoError(t, err)
	assert.NotEqual(t, byte('\n'), got[len(got)-1])
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{
		`{ "b" : 2, "a" : { "d" : [ 1, 2 ], "c" : "x" } }`,
		`{"suite":"axm-blake3-mldsa44","spec_version":"1.0.0"}`,
		`["one", {"k": "v"}, 3]`,
	}
	for _, in := range inputs {
		once, err := Canonicalize([]byte(in))
		require.NoError(t, err)
		twice, err := Canonicalize(once)
		require.NoError(t, err)
		assert.Equal(t, string(once), string(twice))
	}
}

func TestCanonicalizeRejectsTrailingData(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":1} {"b":2}`))
	require.Error(t, err)
}

func TestCanonicalizeRejectsFloats(t *testing.T) {
	_, err := Canonicalize([]byte(`{"confidence": 0.95}`))
	require.Error(t, err)
}

func TestGoldenManifestLikeDocument(t *testing.T) {
	doc := map[string]any{
		"spec_version": "1.0.0",
		"shard_id":     "shard_blake3_00ff",
		"metadata": map[string]any{
			"title":      "Gold — Hämorrhagie",
			"namespace":  "medical",
			"created_at": "2026-01-02T03:04:05Z",
		},
		"statistics": map[string]any{"entities": int64(2), "claims": int64(1)},
	}
	got, err := Marshal(doc)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "manifest_like", got)
}
