package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParamsMergesPairs(t *testing.T) {
	t.Parallel()
	params, err := parseParams(`{"server":"https://s","limit":5}`, []string{
		"filename=a b.png",
		`payload={"alert":"hi"}`,
		"count=3",
		"server=https://other",
	})
	require.NoError(t, err)

	assert.Equal(t, "a b.png", params["filename"])
	assert.Equal(t, map[string]any{"alert": "hi"}, params["payload"])
	assert.Equal(t, float64(3), params["count"])
	assert.Equal(t, json.Number("5"), params["limit"])
	assert.Equal(t, "https://other", params["server"], "pairs override the JSON object")
}

func TestParseParamsRejectsMalformedInput(t *testing.T) {
	t.Parallel()
	_, err := parseParams(`{"server":`, nil)
	assert.ErrorContains(t, err, "invalid --params JSON")

	_, err = parseParams("", []string{"=x"})
	assert.ErrorContains(t, err, "want key=value")

	_, err = parseParams("", []string{"novalue"})
	assert.Error(t, err)

	params, err := parseParams("  ", nil)
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
