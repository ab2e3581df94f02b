// Package tokens implements token counting, cost estimation, and
// context-aware truncation for text and chat messages, including
// image-token accounting. Token counts use a ~4-chars-per-token
// heuristic rather than a model-specific tokenizer — exact counts would
// require vendoring a per-model BPE table for marginal benefit over a
// heuristic estimate.
package tokens

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/codeready-toolchain/rle/pkg/rleconfig"
)

// charsPerToken is the approximate number of characters per token for
// English text.
const charsPerToken = 4

// chatPrimingTokens is added once per message list to account for the
// fixed overhead of the chat wrapper itself.
const chatPrimingTokens = 3

// ErrContextOverflow is returned by CheckContextLimit when throwing is
// requested and the message set exceeds the model's context window.
var ErrContextOverflow = errors.New("tokens: context overflow")

// Message is the minimal chat-message shape TokenBudgeter counts over.
// Role is informational only; Images carries any multimodal content
// blocks attached to this message.
type Message struct {
	Role    string
	Content string
	Images  []Image
}

// ImageDetail mirrors the "low"/"high"(default) detail hint chat APIs use
// to control image tokenization cost.
type ImageDetail string

const (
	DetailLow     ImageDetail = "low"
	DetailDefault ImageDetail = ""
)

// Image is a single multimodal content block attached to a message.
type Image struct {
	Detail ImageDetail
	// Source resolves the image's pixel dimensions. Isolated behind an
	// interface so tests can inject dimensions without doing any decoding
	// or network I/O.
	Source ImageSource
}

// ImageSource returns an image's pixel dimensions, or an error if they
// cannot be determined (the caller then falls back to a fixed estimate).
type ImageSource interface {
	Dimensions() (width, height int, err error)
}

// FixedDimensions is an ImageSource that always returns the same size —
// used by tests and by callers who already know the dimensions.
type FixedDimensions struct{ Width, Height int }

// Dimensions implements ImageSource.
func (f FixedDimensions) Dimensions() (int, int, error) { return f.Width, f.Height, nil }

// Budgeter counts and budgets tokens for a specific model's pricing and
// context-window table.
type Budgeter struct {
	models *rleconfig.ModelRegistry
}

// New creates a Budgeter backed by the given model registry.
func New(models *rleconfig.ModelRegistry) *Budgeter {
	return &Budgeter{models: models}
}

// CountText estimates the token count of a bare string for model.
func (b *Budgeter) CountText(model, s string) int {
	return estimateTextTokens(s)
}

func estimateTextTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + charsPerToken - 1) / charsPerToken
}

// CountMessages counts the tokens of a full chat message list for model,
// including per-message overhead, chat priming, and any attached images.
func (b *Budgeter) CountMessages(model string, msgs []Message) int {
	cfg := b.models.Get(model)
	total := chatPrimingTokens
	for _, m := range msgs {
		total += cfg.MessageOverheadTokens
		total += estimateTextTokens(m.Content)
		for _, img := range m.Images {
			total += imageTokens(img)
		}
	}
	return total
}

// imageTokens implements the image-tiling token formula:
//   - low detail: a flat 85 tokens.
//   - otherwise: scale longest side to <= 2048, shortest side to <= 768,
//     tile into 512x512 tiles, tokens = 170*tiles + 85.
//
// Dimensions come from ImageSource; a failure to resolve them falls back
// to a fixed 765-token estimate.
func imageTokens(img Image) int {
	const lowDetailTokens = 85
	const fallbackTokens = 765

	if img.Detail == DetailLow {
		return lowDetailTokens
	}
	if img.Source == nil {
		return fallbackTokens
	}
	w, h, err := img.Source.Dimensions()
	if err != nil || w <= 0 || h <= 0 {
		return fallbackTokens
	}

	w, h = scaleToFit(w, h, 2048, true)
	w, h = scaleToFit(w, h, 768, false)

	tilesX := ceilDiv(w, 512)
	tilesY := ceilDiv(h, 512)
	return 170*(tilesX*tilesY) + lowDetailTokens
}

// scaleToFit scales (w,h) down so that either its longest side (longest=true)
// or shortest side (longest=false) does not exceed limit, preserving aspect
// ratio. No-op if already within the limit.
func scaleToFit(w, h, limit int, longest bool) (int, int) {
	side := w
	if (longest && h > w) || (!longest && h < w) {
		side = h
	}
	if side <= limit {
		return w, h
	}
	scale := float64(limit) / float64(side)
	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// CountAndEstimate is the sum of an independent CountMessages plus
// CountText(output) — useful for budgeting a call before it is made.
func (b *Budgeter) CountAndEstimate(model string, msgs []Message, output string) int {
	return b.CountMessages(model, msgs) + b.CountText(model, output)
}

// Cost is an estimated dollar cost breakdown for a model call.
type Cost struct {
	In, Out, Total float64
}

// EstimateCost prices inTokens/outTokens against model's per-million rates.
func (b *Budgeter) EstimateCost(model string, inTokens, outTokens int) Cost {
	cfg := b.models.Get(model)
	in := float64(inTokens) / 1_000_000 * cfg.PricePerMillionIn
	out := float64(outTokens) / 1_000_000 * cfg.PricePerMillionOut
	return Cost{In: in, Out: out, Total: in + out}
}

// ContextLimit returns model's total context window size.
func (b *Budgeter) ContextLimit(model string) int {
	return b.models.Get(model).ContextLimit
}

// MaxInputOptions configures MaxInputTokens.
type MaxInputOptions struct {
	// ReserveForOutput reserves headroom for the model's response.
	ReserveForOutput int
}

// MaxInputTokens returns the usable input budget for model after
// reserving room for the expected output.
func (b *Budgeter) MaxInputTokens(model string, opts MaxInputOptions) int {
	limit := b.ContextLimit(model)
	reserve := opts.ReserveForOutput
	if reserve <= 0 {
		reserve = b.models.Get(model).DefaultMaxOutputTokens
	}
	max := limit - reserve
	if max < 0 {
		return 0
	}
	return max
}

// TruncateSide indicates which end of a string truncation removes from.
type TruncateSide string

const (
	FromStart TruncateSide = "start"
	FromEnd   TruncateSide = "end"
)

// TruncateTextOptions configures TruncateText.
type TruncateTextOptions struct {
	From   TruncateSide
	Marker string // optional marker inserted at the cut side
}

// TruncateText truncates s to at most maxTokens for model, cutting from
// the requested side. When Marker is set, it is inserted at the cut side.
func (b *Budgeter) TruncateText(model, s string, maxTokens int, opts TruncateTextOptions) string {
	if b.CountText(model, s) <= maxTokens {
		return s
	}
	maxChars := maxTokens * charsPerToken
	if maxChars < 0 {
		maxChars = 0
	}

	from := opts.From
	if from == "" {
		from = FromEnd
	}

	var cut string
	if from == FromEnd {
		cut = safeTruncateBytes(s, maxChars)
		if opts.Marker != "" {
			cut += opts.Marker
		}
	} else {
		start := len(s) - maxChars
		if start < 0 {
			start = 0
		}
		for start < len(s) && !utf8.RuneStart(s[start]) {
			start++
		}
		cut = s[start:]
		if opts.Marker != "" {
			cut = opts.Marker + cut
		}
	}
	return cut
}

func safeTruncateBytes(s string, n int) string {
	if n >= len(s) {
		return s
	}
	if n < 0 {
		n = 0
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// TruncateMessages trims msgs to fit within max tokens for model. The first
// system message and the last user message are always preserved; everything
// else is eligible for removal, trimmed from the oldest end first (i.e. the
// earliest eligible message goes first) until the remaining set fits, or
// until nothing more can be dropped.
func (b *Budgeter) TruncateMessages(model string, msgs []Message, max int) []Message {
	if b.CountMessages(model, msgs) <= max {
		return msgs
	}

	firstSystem := -1
	lastUser := -1
	for i, m := range msgs {
		if m.Role == RoleSystem && firstSystem == -1 {
			firstSystem = i
		}
		if m.Role == RoleUser {
			lastUser = i
		}
	}

	keep := make(map[int]bool, len(msgs))
	for i := range msgs {
		keep[i] = true
	}

	// middle holds the indices eligible for removal, oldest first, skipping
	// the two protected positions.
	middle := make([]int, 0, len(msgs))
	for i := range msgs {
		if i == firstSystem || i == lastUser {
			continue
		}
		middle = append(middle, i)
	}

	for len(middle) > 0 {
		if b.CountMessages(model, selectMessages(msgs, keep)) <= max {
			break
		}
		drop := middle[0]
		middle = middle[1:]
		keep[drop] = false
	}

	return selectMessages(msgs, keep)
}

func selectMessages(msgs []Message, keep map[int]bool) []Message {
	out := make([]Message, 0, len(msgs))
	for i, m := range msgs {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out
}

// CheckContextLimitOptions configures CheckContextLimit.
type CheckContextLimitOptions struct {
	// Throw, when set, makes CheckContextLimit return a non-nil error
	// (wrapping ErrContextOverflow) on overflow rather than only reporting
	// it as data in the returned ContextCheck.
	Throw bool
}

// ContextCheck reports whether a message list fits within a model's context
// window. Overflow is the number of tokens by which the set exceeds the
// limit, zero when OK is true.
type ContextCheck struct {
	OK       bool
	Overflow int
}

// CheckContextLimit reports whether msgs fit within model's context window.
// Overflow is always populated in the returned ContextCheck; when
// opts.Throw is set and the count overflows, the returned error is non-nil
// and wraps ErrContextOverflow with the token counts involved.
func (b *Budgeter) CheckContextLimit(model string, msgs []Message, opts CheckContextLimitOptions) (ContextCheck, error) {
	limit := b.ContextLimit(model)
	count := b.CountMessages(model, msgs)
	if count <= limit {
		return ContextCheck{OK: true}, nil
	}

	check := ContextCheck{OK: false, Overflow: count - limit}
	if opts.Throw {
		return check, fmt.Errorf("%w: model %s count=%d limit=%d overflow=%d", ErrContextOverflow, model, count, limit, check.Overflow)
	}
	return check, nil
}
