package workitem

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestStatusProgressDualityProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("clamp keeps progress in [0, 100]", prop.ForAll(
		func(p float64) bool {
			c := clampProgress(p)
			return c >= 0 && c <= 100
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.Property("clamp is idempotent", prop.ForAll(
		func(p float64) bool {
			c := clampProgress(p)
			return clampProgress(c) == c
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.Property("derived status matches the progress bands", prop.ForAll(
		func(p float64) bool {
			switch st := StatusForProgress(clampProgress(p)); st {
			case StatusCompleted:
				return clampProgress(p) >= 100
			case StatusInProgress:
				return clampProgress(p) > 0 && clampProgress(p) < 100
			case StatusNotStarted:
				return clampProgress(p) == 0
			default:
				return false
			}
		},
		gen.Float64Range(-200, 300),
	))

	properties.Property("status and progress derivations agree on round trip", prop.ForAll(
		func(p float64) bool {
			c := clampProgress(p)
			// Deriving a status and back lands in the same band.
			return StatusForProgress(ProgressForStatus(StatusForProgress(c))) == StatusForProgress(c)
		},
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}

func TestNormalizeStatusProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	canonical := gen.OneConstOf(
		StatusNotStarted, StatusInProgress, StatusBlocked, StatusCompleted, StatusCancelled,
	)

	properties.Property("canonical statuses are fixed points", prop.ForAll(
		func(st Status) bool {
			return NormalizeStatus(string(st)) == st
		},
		canonical,
	))

	properties.Property("normalization is idempotent", prop.ForAll(
		func(raw string) bool {
			once := NormalizeStatus(raw)
			return NormalizeStatus(string(once)) == once
		},
		gen.OneConstOf("backlog", "done", "not_started", "in_progress", "blocked", "completed", "cancelled", "bogus"),
	))

	properties.TestingRun(t)
}
