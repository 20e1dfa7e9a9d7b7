package testutil

import (
	"codearena/internal/catalog"
)

// CatalogFixtures returns a small catalog covering every difficulty and a
// few overlapping tags. Ids are unset.
func CatalogFixtures() []*catalog.Problem {
	return []*catalog.Problem{
		NewProblemBuilder().
			WithTitle("Two Sum").
			WithDescription("Find two numbers in an array that add up to a target.").
			WithDifficulty("easy").
			WithTags("array", "hash-table").
			Build(),
		NewProblemBuilder().
			WithTitle("Longest Path").
			WithDescription("Find the longest path in a directed acyclic graph.").
			WithDifficulty("Medium").
			WithTags("graph", "dp").
			Build(),
		NewProblemBuilder().
			WithTitle("Edit Distance").
			WithDescription("Compute the minimum number of edits between two strings.").
			WithDifficulty("hard").
			WithTags("dp", "string").
			Build(),
		NewProblemBuilder().
			WithTitle("Valid Parentheses").
			WithDescription("Check whether every bracket in a string is closed.").
			WithDifficulty("easy").
			WithTags("string", "stack").
			Build(),
	}
}
