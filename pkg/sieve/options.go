package sieve

import "context"

type OptionKey string

const DisciplineOptionKey OptionKey = "discipline_options"

// Discipline controls which inherited descriptors a filter stage releases on
// entry.
type Discipline int

const (
	// Strict stages keep only their upstream read end.
	Strict Discipline = iota
	// LeakUpstreamWrite stages also keep their copy of the upstream write
	// end, so they never observe end-of-stream. It exists to exercise hang
	// detection.
	LeakUpstreamWrite
)

type DisciplineOptions struct {
	Discipline Discipline
}

func WithDiscipline(ctx context.Context, d Discipline) context.Context {
	return context.WithValue(ctx, DisciplineOptionKey, DisciplineOptions{Discipline: d})
}

func GetDiscipline(ctx context.Context, defaultDiscipline Discipline) Discipline {
	options, ok := ctx.Value(DisciplineOptionKey).(DisciplineOptions)
	if ok {
		return options.Discipline
	}
	return defaultDiscipline
}
