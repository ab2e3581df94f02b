// Package guard declares the interfaces the RLE core calls out to for
// humanisation text post-processing and guard-pattern redaction. These
// collaborators sit outside the core loop and are referenced only at
// their interfaces — this package intentionally holds no regex libraries
// or pattern compilation, only the contract and a fail-open/fail-closed
// default: redaction failures never abort the caller, they degrade to
// either "pass content through" (fail-open) or "redact the whole span"
// (fail-closed) depending on the collaborator's risk profile.
package guard

// PatternGuard redacts sensitive spans from text before it is stored or
// echoed back to the model. A production deployment wires a concrete
// implementation (e.g. backed by compiled regex pattern groups); RLE's
// core only depends on this interface.
type PatternGuard interface {
	// Redact returns content with sensitive spans replaced. On internal
	// failure it must still return a usable string — see FailClosedGuard
	// for the accepted degradation strategy.
	Redact(content string) string
}

// Humanizer rewrites model-authored prose into a more natural register.
// Declared here only as the named contract a caller may supply to
// post-process QAPipeline / IterationLoop output.
type Humanizer interface {
	Humanize(text string) (string, error)
}

// NoopGuard passes content through unchanged. It is the zero-configuration
// default used when no PatternGuard has been wired, so callers that never
// configure masking still get a well-defined, side-effect-free contract.
type NoopGuard struct{}

// Redact implements PatternGuard by returning content unchanged.
func (NoopGuard) Redact(content string) string { return content }

// FailClosedGuard wraps a PatternGuard so that a panic-free but failed
// redaction (reported via the supplied detector) redacts the whole
// content rather than risk leaking it.
type FailClosedGuard struct {
	Inner  PatternGuard
	Failed func(content string) bool
}

// Redact returns the inner guard's output, or a redaction notice if Failed
// reports that inner could not safely process content.
func (g FailClosedGuard) Redact(content string) string {
	out := g.Inner.Redact(content)
	if g.Failed != nil && g.Failed(out) {
		return "[REDACTED: guard pattern failure]"
	}
	return out
}
