package shell

import (
	"fmt"
	"strings"
)

// maxDepth bounds wrapper and substitution recursion. Text nested deeper is
// emitted verbatim as a single command and the result is marked Uncertain.
const maxDepth = 8

// Option configures a decomposition.
type Option func(*options)

type options struct {
	keywords bool
}

// WithKeywords emits fragments made only of control keywords as records with
// OriginKeyword instead of dropping them.
func WithKeywords() Option {
	return func(o *options) { o.keywords = true }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Decomposer turns a command line into simple commands.
type Decomposer interface {
	Decompose(text string) (*Decomposition, error)
}

// Precise decomposes with a bash parser. It fails on input bash would reject.
type Precise struct {
	opts options
}

// NewPrecise returns the parser-backed decomposer.
func NewPrecise(opts ...Option) *Precise {
	return &Precise{opts: buildOptions(opts)}
}

// Decompose parses text as bash and walks the syntax tree.
func (p *Precise) Decompose(text string) (dec *Decomposition, err error) {
	defer func() {
		if r := recover(); r != nil {
			dec, err = nil, fmt.Errorf("parse %q: %v", text, r)
		}
	}()
	file, err := parseBash(text)
	if err != nil {
		return nil, fmt.Errorf("parse command line: %w", err)
	}
	b := &builder{keywords: p.opts.keywords}
	b.stmts(frame{text: text}, file.Stmts, OriginTopLevel)
	return b.result(text, TierPrecise), nil
}

// Lenient decomposes with a quote-aware scanner. It never fails.
type Lenient struct {
	opts options
}

// NewLenient returns the best-effort decomposer.
func NewLenient(opts ...Option) *Lenient {
	return &Lenient{opts: buildOptions(opts)}
}

// Decompose splits text on shell operators. The error is always nil.
func (l *Lenient) Decompose(text string) (*Decomposition, error) {
	b := &builder{keywords: l.opts.keywords, lenient: true}
	b.lenientText(frame{text: text}, OriginTopLevel)
	return b.result(text, TierLenient), nil
}

// Decompose returns the simple commands in text. It tries the precise tier
// and falls back to the lenient tier, so it never fails.
func Decompose(text string, opts ...Option) *Decomposition {
	dec, err := NewPrecise(opts...).Decompose(text)
	if err == nil {
		return dec
	}
	dec, _ = NewLenient(opts...).Decompose(text)
	dec.ParseError = err.Error()
	return dec
}

// word is one name or argument with its position in the frame text.
type word struct {
	val      string
	start    int
	end      int
	valStart int
}

// command is a simple command before it is expanded and emitted. Offsets are
// relative to the frame text.
type command struct {
	words   []word
	assigns []string
	redirs  []string
	start   int
	end     int
	origin  Origin
	sudo    bool
}

// frame is one piece of text under decomposition. Offsets inside it map to
// the original input by adding base, unless fixed is set, in which case every
// record found inside reports the fixed range.
type frame struct {
	text  string
	base  int
	fixed *Range
	depth int
	// sudo marks text that runs with elevated privileges.
	sudo  bool
}

func (f frame) rng(start, end int) Range {
	if f.fixed != nil {
		return *f.fixed
	}
	return Range{Start: f.base + start, End: f.base + end}
}

func (f frame) src(start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(f.text) {
		end = len(f.text)
	}
	if start >= end {
		return ""
	}
	return f.text[start:end]
}

// sub returns the frame for text[start:end].
func (f frame) sub(start, end int) frame {
	return frame{text: f.src(start, end), base: f.base + start, fixed: f.fixed, depth: f.depth + 1, sudo: f.sudo}
}

// inner returns the frame for the value of w, a script argument.
func (f frame) inner(w word) frame {
	n := frame{text: w.val, depth: f.depth + 1, sudo: f.sudo}
	if f.fixed == nil && w.valStart >= 0 {
		n.base = f.base + w.valStart
		return n
	}
	r := f.rng(w.start, w.end)
	n.fixed = &r
	return n
}

type builder struct {
	keywords  bool
	lenient   bool
	cmds      []SimpleCommand
	uncertain bool
}

func (b *builder) result(text string, tier Tier) *Decomposition {
	return &Decomposition{
		Input:     text,
		Commands:  b.cmds,
		Tier:      tier,
		Uncertain: b.uncertain,
	}
}

// decompose handles nested text: unwrapped scripts and substitutions.
func (b *builder) decompose(f frame, origin Origin) {
	if strings.TrimSpace(f.text) == "" {
		return
	}
	if f.depth > maxDepth {
		b.verbatim(f, origin)
		return
	}
	if !b.lenient {
		if file, err := parseBash(f.text); err == nil {
			b.stmts(f, file.Stmts, origin)
			return
		}
	}
	b.lenientText(f, origin)
}

// verbatim emits the whole frame as one command.
func (b *builder) verbatim(f frame, origin Origin) {
	b.uncertain = true
	fields := strings.Fields(f.text)
	if len(fields) == 0 {
		return
	}
	b.cmds = append(b.cmds, SimpleCommand{
		Name:   fields[0],
		Args:   fields[1:],
		Range:  f.rng(0, len(f.text)),
		Origin: origin,
		Raw:    f.text,
		Sudo:   f.sudo,
	})
}

func (b *builder) emit(f frame, c command) {
	raw := f.src(c.start, c.end)
	if strings.TrimSpace(raw) == "" {
		return
	}
	sc := SimpleCommand{
		Assignments:  c.assigns,
		Redirections: c.redirs,
		Range:        f.rng(c.start, c.end),
		Origin:       c.origin,
		Raw:          raw,
		Sudo:         f.sudo || c.sudo,
	}
	if len(c.words) > 0 {
		sc.Name = c.words[0].val
		for _, w := range c.words[1:] {
			sc.Args = append(sc.Args, w.val)
		}
	}
	b.cmds = append(b.cmds, sc)
}

func (b *builder) emitKeyword(f frame, name string, args []string, start, end int) {
	if !b.keywords {
		return
	}
	raw := f.src(start, end)
	if raw == "" {
		return
	}
	b.cmds = append(b.cmds, SimpleCommand{
		Name:   name,
		Args:   args,
		Range:  f.rng(start, end),
		Origin: OriginKeyword,
		Raw:    raw,
	})
}

// expand emits c, replacing a meta-command by the commands it carries. It
// returns the index of the word whose substitutions were already decomposed
// as part of an unwrapped script, or -1.
func (b *builder) expand(f frame, c command) int {
	vals := make([]string, len(c.words))
	for i, w := range c.words {
		vals[i] = w.val
	}
	u := findUnwrap(vals)

	switch u.kind {
	case unwrapScript:
		if !b.script(c, f.inner(c.words[u.index])) {
			// Empty script: keep the wrapper so it is still evaluated.
			b.emit(f, c)
			return -1
		}
		return u.index

	case unwrapPrefix:
		if f.depth >= maxDepth {
			b.uncertain = true
			b.emit(f, c)
			return -1
		}
		inner := command{
			words:   c.words[u.index:],
			assigns: append([]string(nil), c.assigns...),
			redirs:  c.redirs,
			start:   c.words[u.index].start,
			end:     c.end,
			origin:  OriginUnwrapped,
			sudo:    c.sudo || u.sudo,
		}
		for _, w := range c.words[1:u.index] {
			if isAssignment(w.val) {
				inner.assigns = append(inner.assigns, w.val)
			}
		}
		if len(inner.assigns) == 0 {
			inner.assigns = nil
		}
		nf := f
		nf.depth++
		if skip := b.expand(nf, inner); skip >= 0 {
			return skip + u.index
		}
		return -1

	case unwrapNode:
		b.emit(f, c)
		w := c.words[u.index]
		r := f.rng(w.start, w.end)
		for _, script := range nodeShellStrings(w.val) {
			b.decompose(frame{text: script, fixed: &r, depth: f.depth + 1, sudo: f.sudo || c.sudo}, OriginUnwrapped)
		}
		return -1

	case unwrapEval:
		args := c.words[u.index:]
		if len(args) == 1 {
			if !b.script(c, f.inner(args[0])) {
				b.emit(f, c)
				return -1
			}
			return u.index
		}
		vals := make([]string, len(args))
		for i, w := range args {
			vals[i] = w.val
		}
		r := f.rng(args[0].start, args[len(args)-1].end)
		nf := frame{text: strings.Join(vals, " "), fixed: &r, depth: f.depth + 1, sudo: f.sudo}
		if !b.script(c, nf) {
			b.emit(f, c)
		}
		return -1
	}

	b.emit(f, c)
	return -1
}

// script decomposes nf, the script carried by wrapper c, and reports whether
// it held any command.
func (b *builder) script(c command, nf frame) bool {
	nf.sudo = nf.sudo || c.sudo
	n := len(b.cmds)
	b.decompose(nf, OriginUnwrapped)
	if len(b.cmds) == n {
		return false
	}
	b.attachRedirs(n, c.redirs)
	return true
}

// attachRedirs gives a wrapper's redirections to the last command it carried.
func (b *builder) attachRedirs(from int, redirs []string) {
	if len(redirs) == 0 || len(b.cmds) <= from {
		return
	}
	last := &b.cmds[len(b.cmds)-1]
	last.Redirections = append(append([]string(nil), last.Redirections...), redirs...)
}
