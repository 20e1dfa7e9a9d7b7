package testutil

import (
	"codearena/internal/catalog"
)

// ProblemBuilder helps build test problems. The zero build is a complete
// record without an id.
type ProblemBuilder struct {
	problem *catalog.Problem
}

// NewProblemBuilder creates a new problem builder
func NewProblemBuilder() *ProblemBuilder {
	return &ProblemBuilder{
		problem: &catalog.Problem{
			Title:             "Two Sum",
			Description:       "Find two numbers that add up to a target.",
			InputDescription:  "An array and a target.",
			OutputDescription: "The two indices.",
			Constraints:       "2 <= n <= 10^4",
			Difficulty:        "easy",
			Tags:              []string{"array", "hash-table"},
			TimeLimitMs:       1000,
			MemoryLimitMb:     256,
		},
	}
}

func (b *ProblemBuilder) WithID(id int64) *ProblemBuilder {
	b.problem.ID = id
	return b
}

func (b *ProblemBuilder) WithTitle(title string) *ProblemBuilder {
	b.problem.Title = title
	return b
}

func (b *ProblemBuilder) WithDescription(description string) *ProblemBuilder {
	b.problem.Description = description
	return b
}

func (b *ProblemBuilder) WithDifficulty(difficulty string) *ProblemBuilder {
	b.problem.Difficulty = difficulty
	return b
}

func (b *ProblemBuilder) WithTags(tags ...string) *ProblemBuilder {
	b.problem.Tags = append([]string{}, tags...)
	return b
}

func (b *ProblemBuilder) WithLimits(timeMs int64, memoryMb int) *ProblemBuilder {
	b.problem.TimeLimitMs = timeMs
	b.problem.MemoryLimitMb = memoryMb
	return b
}

// Build returns a copy, so one builder can produce several problems.
func (b *ProblemBuilder) Build() *catalog.Problem {
	return b.problem.Clone()
}
