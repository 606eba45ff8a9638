package testtool

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/playbookd/internal/cycle"
)

func TestParseEvents_Counts(t *testing.T) {
	stream := strings.Join([]string{
		`{"Action":"run","Package":"example.com/a","Test":"TestOne"}`,
		`{"Action":"pass","Package":"example.com/a","Test":"TestOne"}`,
		`{"Action":"pass","Package":"example.com/a","Test":"TestTwo"}`,
		`{"Action":"fail","Package":"example.com/a","Test":"TestThree"}`,
		`{"Action":"pass","Package":"example.com/a","Test":"TestThree/subcase"}`,
		`{"Action":"skip","Package":"example.com/b","Test":"TestFour"}`,
		`{"Action":"output","Package":"example.com/a","Output":"coverage: 80.0% of statements\n"}`,
		`{"Action":"output","Package":"example.com/b","Output":"coverage: 60.0% of statements\n"}`,
		`{"Action":"fail","Package":"example.com/a"}`,
	}, "\n")

	total, failed, coverage := parseEvents([]byte(stream))
	assert.Equal(t, 4, total, "subtests and package events are not counted")
	assert.Equal(t, 1, failed)
	assert.InDelta(t, 0.70, coverage, 0.001)
}

func TestParseEvents_Empty(t *testing.T) {
	total, failed, coverage := parseEvents(nil)
	assert.Zero(t, total)
	assert.Zero(t, failed)
	assert.Zero(t, coverage)
}

func TestParseEvents_GarbageLinesSkipped(t *testing.T) {
	stream := "not json\n" + `{"Action":"pass","Test":"TestOk"}` + "\n"
	total, failed, _ := parseEvents([]byte(stream))
	assert.Equal(t, 1, total)
	assert.Zero(t, failed)
}

func TestRun_StartFailureNeverErrors(t *testing.T) {
	r := NewRunner(nil)
	r.goBin = "/nonexistent/definitely-not-go"

	outcome := r.Run(context.Background(), t.TempDir(), false)

	assert.False(t, outcome.Passed)
	assert.Equal(t, cycle.ModeReal, outcome.Mode)
	assert.NotEmpty(t, outcome.StderrSummary)
	assert.Zero(t, outcome.TotalCases)
}

func TestRun_DryRunStartFailure(t *testing.T) {
	r := NewRunner(nil)
	r.goBin = "/nonexistent/definitely-not-go"

	outcome := r.Run(context.Background(), t.TempDir(), true)

	assert.False(t, outcome.Passed)
	assert.Equal(t, cycle.ModeDryRun, outcome.Mode)
	assert.NotEmpty(t, outcome.StderrSummary)
}

func TestRun_TimeoutBecomesFailedOutcome(t *testing.T) {
	r := NewRunner(nil).WithTimeout(50 * time.Millisecond)
	// An already-expired parent deadline keeps the command from starting.
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	outcome := r.Run(ctx, t.TempDir(), false)
	assert.False(t, outcome.Passed)
	assert.NotEmpty(t, outcome.StderrSummary)
}

func TestTruncateStderr(t *testing.T) {
	long := strings.Repeat("x", stderrLimit+100)
	got := truncateStderr(long, nil)
	assert.Len(t, got, stderrLimit+3)
	assert.True(t, strings.HasSuffix(got, "..."))

	assert.Equal(t, "exit status 1", truncateStderr("", assertableError("exit status 1")))
}

type assertableError string

func (e assertableError) Error() string { return string(e) }
