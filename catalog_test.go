package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalogFile(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "challenges.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	return path
}

func TestLoadCatalog(t *testing.T) {
	path := writeCatalogFile(t, `[
		{
			"title": "One",
			"level": "easy",
			"baseScore": 50,
			"timeLimitSec": 30,
			"viewA": "a",
			"viewB": "b",
			"answer": {"type": "exact", "value": "x"}
		},
		{
			"title": "Two",
			"level": "normal",
			"baseScore": 100,
			"timeLimitSec": 60,
			"subquestions": [
				{"viewA": "a", "viewB": "b", "timeLimitSec": 20, "answer": {"type": "exact", "value": "y"}}
			]
		}
	]`)

	cat := LoadCatalog(&Config{}, path)
	require.Equal(t, 2, cat.Len())
	assert.False(t, cat.Get(0).Nested())
	assert.True(t, cat.Get(1).Nested())
}

func TestLoadCatalogMissingFile(t *testing.T) {
	cat := LoadCatalog(&Config{}, filepath.Join(t.TempDir(), "nope.json"))
	assert.Equal(t, 0, cat.Len())
}

func TestLoadCatalogMalformed(t *testing.T) {
	path := writeCatalogFile(t, `{"not": "an array"`)

	// Parse failures degrade to an empty catalog, never a crash.
	cat := LoadCatalog(&Config{}, path)
	assert.Equal(t, 0, cat.Len())
}

func TestLoadCatalogSkipsInvalidRecords(t *testing.T) {
	path := writeCatalogFile(t, `[
		{
			"title": "BothVariants",
			"level": "easy",
			"baseScore": 10,
			"timeLimitSec": 30,
			"viewA": "a",
			"viewB": "b",
			"answer": {"type": "exact", "value": "x"},
			"subquestions": [
				{"viewA": "a", "viewB": "b", "timeLimitSec": 20, "answer": {"type": "exact", "value": "y"}}
			]
		},
		{
			"title": "NoVariant",
			"level": "easy",
			"baseScore": 10,
			"timeLimitSec": 30,
			"viewA": "a",
			"viewB": "b"
		},
		{
			"title": "Good",
			"level": "easy",
			"baseScore": 10,
			"timeLimitSec": 30,
			"viewA": "a",
			"viewB": "b",
			"answer": {"type": "exact", "value": "x"}
		}
	]`)

	cat := LoadCatalog(&Config{}, path)
	require.Equal(t, 1, cat.Len())
	assert.Equal(t, "Good", cat.Get(0).Title)
}

func testCatalog(challenges ...Challenge) *Catalog {
	return &Catalog{challenges: challenges}
}

func flatChallenge(title, level string) Challenge {
	return Challenge{
		Title:        title,
		Level:        level,
		BaseScore:    100,
		TimeLimitSec: 60,
		ViewA:        "view for A",
		ViewB:        "view for B",
		Answer:       &AnswerSpec{Type: "exact", Value: "answer"},
	}
}

func TestCatalogFilter(t *testing.T) {
	cat := testCatalog(
		flatChallenge("e1", "easy"),
		flatChallenge("n1", "normal"),
		flatChallenge("n2", "normal"),
		flatChallenge("h1", "hard"),
	)

	assert.Equal(t, []int{1, 2}, cat.Filter([]string{"normal"}, nil))
	assert.Equal(t, []int{2}, cat.Filter([]string{"normal"}, map[int]bool{1: true}))
	assert.Equal(t, []int{0, 1, 2}, cat.Filter([]string{"easy", "normal"}, nil))
	assert.Empty(t, cat.Filter([]string{"expert"}, nil))
}

func TestCatalogPickNeverRepeats(t *testing.T) {
	cat := testCatalog(
		flatChallenge("n1", "normal"),
		flatChallenge("n2", "normal"),
		flatChallenge("n3", "normal"),
	)

	used := make(map[int]bool)
	for i := 0; i < 3; i++ {
		idx, ch, ok := cat.Pick([]string{"normal"}, used)
		require.True(t, ok)
		require.NotNil(t, ch)
		require.False(t, used[idx], "picked an already-used index")
		used[idx] = true
	}

	_, _, ok := cat.Pick([]string{"normal"}, used)
	assert.False(t, ok, "exhausted catalog must report no eligible challenge")
}

func TestRandIndexBounds(t *testing.T) {
	assert.Equal(t, 0, randIndex(0))
	assert.Equal(t, 0, randIndex(1))

	for i := 0; i < 1000; i++ {
		v := randIndex(7)
		require.GreaterOrEqual(t, v, 0)
		require.Less(t, v, 7)
	}
}
