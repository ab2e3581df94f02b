package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/rle/pkg/store"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	st, err := store.CreateDisposable()
	require.NoError(t, err)
	t.Cleanup(func() { st.Dispose() })
	fixedClock := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return New(st, Options{Clock: fixedClock})
}

func run(t *testing.T, sb *Sandbox, src string) ExecResult {
	t.Helper()
	return sb.NewInvocation().Execute(context.Background(), src)
}

func TestExecute_Arithmetic(t *testing.T) {
	sb := newTestSandbox(t)
	res := run(t, sb, `(+ 1 2 3)`)
	require.Empty(t, res.Error)
	assert.Equal(t, float64(6), res.Result)
}

func TestExecute_DivisionByZeroIsCapturedAsError(t *testing.T) {
	sb := newTestSandbox(t)
	res := run(t, sb, `(/ 1 0)`)
	assert.NotEmpty(t, res.Error)
	assert.Contains(t, res.Error, "division by zero")
}

func TestExecute_DefAndLet(t *testing.T) {
	sb := newTestSandbox(t)
	res := run(t, sb, `(def x 10) (let (y 5) (+ x y))`)
	require.Empty(t, res.Error)
	assert.Equal(t, float64(15), res.Result)
}

func TestExecute_LetDoesNotLeakBindings(t *testing.T) {
	sb := newTestSandbox(t)
	res := run(t, sb, `(let (x 1) x) x`)
	assert.NotEmpty(t, res.Error)
	assert.Contains(t, res.Error, "unbound symbol")
}

func TestExecute_If(t *testing.T) {
	sb := newTestSandbox(t)
	res := run(t, sb, `(if (> 2 1) "yes" "no")`)
	require.Empty(t, res.Error)
	assert.Equal(t, "yes", res.Result)
}

func TestExecute_UnknownOperationIsRejected(t *testing.T) {
	sb := newTestSandbox(t)
	res := run(t, sb, `(os-exec "rm -rf /")`)
	assert.NotEmpty(t, res.Error)
	assert.Contains(t, res.Error, "not allow-listed")
}

func TestExecute_MapFilterReduce(t *testing.T) {
	sb := newTestSandbox(t)
	res := run(t, sb, `
		(def names (list "ana" "bo"))
		(def upper (map "str-upper" names))
		(def kept (filter "not" (list true false nil 1)))
		(reduce "+" 0 (list 1 2 3))
	`)
	require.Empty(t, res.Error)
	assert.Equal(t, float64(6), res.Result)

	upperRes := run(t, sb, `(def names (list "ana" "bo")) (map "str-upper" names)`)
	require.Empty(t, upperRes.Error)
	assert.Equal(t, []any{"ANA", "BO"}, upperRes.Result)

	filterRes := run(t, sb, `(filter "not" (list true false nil 1))`)
	require.Empty(t, filterRes.Error)
	assert.Len(t, filterRes.Result, 2)
}

func TestExecute_FinalStopsEvaluation(t *testing.T) {
	sb := newTestSandbox(t)
	res := run(t, sb, `(def x 1) (FINAL x) (def x 999)`)
	require.Empty(t, res.Error)
	answer, ok := IsFinal(res.Result)
	require.True(t, ok)
	assert.Equal(t, float64(1), answer)
}

func TestExecute_FinalVarReferencesLocal(t *testing.T) {
	sb := newTestSandbox(t)
	res := run(t, sb, `(def answer "done") (FINAL-VAR answer)`)
	require.Empty(t, res.Error)
	answer, ok := IsFinal(res.Result)
	require.True(t, ok)
	assert.Equal(t, "done", answer)
}

func TestExecute_AtomCellRoundTrips(t *testing.T) {
	sb := newTestSandbox(t)
	res := run(t, sb, `
		(def counter (atom 0))
		(swap! counter "+" 1)
		(swap! counter "+" 1)
		(deref counter)
	`)
	require.Empty(t, res.Error)
	assert.Equal(t, float64(2), res.Result)
}

func TestExecute_SetOperations(t *testing.T) {
	sb := newTestSandbox(t)
	res := run(t, sb, `(set-union (str-split "a,b" ",") (str-split "b,c" ","))`)
	require.Empty(t, res.Error)
	result, ok := res.Result.([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"a", "b", "c"}, result)
}

func TestExecute_DateHelpers(t *testing.T) {
	sb := newTestSandbox(t)
	res := run(t, sb, `(date-format (date-add-days (date-parse "2026-01-01") 10))`)
	require.Empty(t, res.Error)
	assert.Equal(t, "2026-01-11", res.Result)
}

func TestExecute_DateTodayUsesInjectedClock(t *testing.T) {
	sb := newTestSandbox(t)
	res := run(t, sb, `(date-format (date-today))`)
	require.Empty(t, res.Error)
	assert.Equal(t, "2026-01-01", res.Result)
}

func TestExecute_RegexHelpers(t *testing.T) {
	sb := newTestSandbox(t)
	res := run(t, sb, `(re-match "^[0-9]+$" "1234")`)
	require.Empty(t, res.Error)
	assert.Equal(t, true, res.Result)
}

func TestExecute_PrintAccumulatesStdout(t *testing.T) {
	sb := newTestSandbox(t)
	res := run(t, sb, `(print "a") (print "b")`)
	require.Empty(t, res.Error)
	assert.Equal(t, "a\nb", res.Stdout)
}

func TestExecute_ParseErrorSurfacesAsData(t *testing.T) {
	sb := newTestSandbox(t)
	res := run(t, sb, `(+ 1 2`)
	assert.NotEmpty(t, res.Error)
}

func TestExecute_TimeoutIsReportedWithoutPanicking(t *testing.T) {
	sb := newTestSandbox(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := sb.NewInvocation().Execute(ctx, `(+ 1 2) (+ 3 4)`)
	assert.True(t, res.Timeout)
}
