package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInstructionsIncludesLocation(t *testing.T) {
	got := BuildInstructions("Portland", "or")

	assert.True(t, strings.HasPrefix(got, BaseInstructions))
	assert.Contains(t, got, "Portland OR")
	assert.True(t, strings.HasSuffix(got, "\nThe user is in Portland OR.\n"))
}

func TestBuildInstructionsOmitsSentinelCity(t *testing.T) {
	for _, city := range []string{"null", ""} {
		got := BuildInstructions(city, "or")
		assert.True(t, strings.HasSuffix(got, "\nThe user is in  OR.\n"), "city %q", city)
		assert.NotContains(t, got, "null OR")
	}
}

func TestBaseInstructionsCarryReferralsAndDelimiter(t *testing.T) {
	assert.Contains(t, BaseInstructions, OregonLawCenterPhone)
	assert.Contains(t, BaseInstructions, LetterDelimiter)
	assert.Contains(t, BaseInstructions, `target="_blank"`)
}

func TestBuildRetrievalToolWithCity(t *testing.T) {
	tool := BuildRetrievalTool("projects/p/datastores/laws", "Portland", "OR")
	require.NotNil(t, tool)

	assert.Equal(t, DefaultMaxResults, tool.MaxResults)
	assert.Equal(t, []Clause{
		{State: "or", City: "portland"},
		{State: "or", City: "null"},
	}, tool.Filter.Clauses)
	assert.Equal(t,
		`(city: ANY("portland") AND state: ANY("or")) OR (city: ANY("null") AND state: ANY("or"))`,
		tool.Filter.String())
}

func TestBuildRetrievalToolStateOnly(t *testing.T) {
	tool := BuildRetrievalTool("ds", "null", "or")
	require.NotNil(t, tool)

	assert.Equal(t, []Clause{{State: "or", City: "null"}}, tool.Filter.Clauses)
	assert.Equal(t, `(city: ANY("null") AND state: ANY("or"))`, tool.Filter.String())
}

func TestBuildRetrievalToolWithoutDatastore(t *testing.T) {
	assert.Nil(t, BuildRetrievalTool("", "portland", "or"))
	assert.Nil(t, BuildRetrievalTool("  ", "portland", "or"))
}

func TestFilterMatches(t *testing.T) {
	cityTool := BuildRetrievalTool("ds", "portland", "or")
	stateTool := BuildRetrievalTool("ds", "null", "or")

	cases := []struct {
		name  string
		doc   map[string]string
		city  bool
		state bool
	}{
		{"city doc", map[string]string{"state": "or", "city": "portland"}, true, false},
		{"state-wide doc", map[string]string{"state": "or", "city": "null"}, true, true},
		{"mixed case", map[string]string{"state": "OR", "city": "Portland"}, true, false},
		{"other city", map[string]string{"state": "or", "city": "eugene"}, false, false},
		{"other state", map[string]string{"state": "wa", "city": "null"}, false, false},
		{"no metadata", map[string]string{}, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.city, cityTool.Filter.Matches(tc.doc))
			assert.Equal(t, tc.state, stateTool.Filter.Matches(tc.doc))
		})
	}
}
