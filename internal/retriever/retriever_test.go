package retriever

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatCitations_DedupesByKeyKeepsHighestScore(t *testing.T) {
	results := []Result{
		{Title: "Logseq usage", FilePath: "pages/logseq.md", Score: 0.4, Source: SourceLocal},
		{Title: "Logseq usage", FilePath: "pages/logseq.md", Score: 0.9, Source: SourceLocal},
		{Title: "Other note", FilePath: "pages/other.md", Score: 0.6, Source: SourceLocal},
		{Title: "Example", URL: "https://example.com/a", Score: 0.5, Source: SourceWeb},
	}

	citations := FormatCitations(results)
	require.Len(t, citations, 3)
	require.Equal(t, "pages/logseq.md", citations[0].Path)
	require.InDelta(t, 0.9, citations[0].Score, 1e-9)
	require.Equal(t, 1, citations[0].ID)
	require.Equal(t, 2, citations[1].ID)
	require.Equal(t, 3, citations[2].ID)
}

func TestFormatCitations_EmptyInputYieldsEmptyOutput(t *testing.T) {
	require.Empty(t, FormatCitations(nil))
}

func TestBuildAnswerPrompt_IncludesLocalAndWebSectionsAndCapsCounts(t *testing.T) {
	local := make([]Result, 7)
	for i := range local {
		local[i] = Result{Title: "Local", Content: strings.Repeat("x", 600)}
	}
	web := make([]Result, 5)
	for i := range web {
		web[i] = Result{Title: "Web", Content: strings.Repeat("y", 600)}
	}

	messages := BuildAnswerPrompt("what is logseq", local, web)
	require.Len(t, messages, 2)
	require.Equal(t, "system", messages[0].Role)
	require.Equal(t, "user", messages[1].Role)

	body := messages[1].Content
	require.Contains(t, body, "## Local notes")
	require.Contains(t, body, "## Web resources")
	require.Equal(t, 5, strings.Count(body, "[Local]"))
	require.Equal(t, 3, strings.Count(body, "[Web]"))
}

func TestBuildAnswerPrompt_OmitsSectionsWithNoResults(t *testing.T) {
	messages := BuildAnswerPrompt("q", nil, nil)
	body := messages[1].Content
	require.NotContains(t, body, "## Local notes")
	require.NotContains(t, body, "## Web resources")
}

func TestFallbackAnswer_ListsBothSourcesWhenPresent(t *testing.T) {
	local := []Result{{Title: "Note A", Content: "content a"}}
	web := []Result{{Title: "example.com", Content: "content b"}}

	answer := fallbackAnswer("my query", local, web)
	require.Contains(t, answer, "Note A")
	require.Contains(t, answer, "content a")
	require.Contains(t, answer, "example.com")
	require.Contains(t, answer, "content b")
}

func TestFallbackAnswer_ReportsNoResultsWhenEmpty(t *testing.T) {
	answer := fallbackAnswer("my query", nil, nil)
	require.Contains(t, answer, "No relevant notes or web results")
}

func TestConvertWebResults_NilInputYieldsEmpty(t *testing.T) {
	require.Empty(t, convertWebResults(nil))
}

func TestDedupeKey_DistinguishesLocalAndWeb(t *testing.T) {
	local := Result{Source: SourceLocal, FilePath: "a.md"}
	web := Result{Source: SourceWeb, URL: "a.md"}
	require.NotEqual(t, dedupeKey(local), dedupeKey(web))
}
