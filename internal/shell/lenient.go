package shell

import "strings"

// fragment is the run of words between two operators.
type fragment struct {
	toks []token
	// term is the operator that ended the fragment, "" at end of input.
	term string
}

func fragments(toks []token) []fragment {
	var (
		out []fragment
		cur []token
	)
	for _, t := range toks {
		if t.isOp() {
			out = append(out, fragment{toks: cur, term: t.op})
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	if len(cur) > 0 {
		out = append(out, fragment{toks: cur})
	}
	return out
}

// control tracks the control structures open while walking fragments.
type control struct {
	depth int
	cases int
	// pattern is set while case patterns are being read, up to ")".
	pattern bool
}

func (b *builder) lenientText(f frame, origin Origin) {
	res := scan(f.text)
	if res.unclosed {
		b.uncertain = true
	}
	st := &control{}
	for _, fr := range fragments(res.tokens) {
		skipStart, skipEnd := b.fragment(f, fr, st, origin)
		if fr.term == ";;" && st.cases > 0 {
			st.pattern = true
		}
		if len(fr.toks) == 0 {
			continue
		}
		start, end := fr.toks[0].start, fr.toks[len(fr.toks)-1].end
		for _, sp := range res.spans {
			if sp.start < start || sp.start >= end {
				continue
			}
			if sp.start >= skipStart && sp.start < skipEnd {
				continue
			}
			b.decompose(f.sub(sp.start, sp.end), OriginSubstitution)
		}
	}
}

// bare returns the token value when it was written without quoting, so that
// 'for' (quoted) is not taken for a keyword.
func bare(f frame, t token) string {
	if f.src(t.start, t.end) == t.val {
		return t.val
	}
	return ""
}

// fragment emits the commands in one fragment. It returns the source range of
// a script word whose substitutions were already decomposed, or (-1, -1).
func (b *builder) fragment(f frame, fr fragment, st *control, origin Origin) (int, int) {
	toks := fr.toks
	if len(toks) == 0 {
		return -1, -1
	}

	if st.pattern && bare(f, toks[0]) != "esac" {
		if fr.term == ")" {
			st.pattern = false
		}
		return -1, -1
	}

	var stripped []token
strip:
	for len(toks) > 0 {
		switch bare(f, toks[0]) {
		case "if", "while", "until":
			st.depth++
		case "do", "then", "else", "elif", "!", "{", "}":
		case "done", "fi":
			if st.depth > 0 {
				st.depth--
			}
		case "esac":
			if st.depth > 0 {
				st.depth--
			}
			if st.cases > 0 {
				st.cases--
			}
			st.pattern = false
		case "for", "select", "case":
			// The header is not a command. Its substitutions are still
			// decomposed by the caller.
			st.depth++
			if bare(f, toks[0]) == "case" {
				st.cases++
				st.pattern = fr.term != ")"
			}
			stripped = append(stripped, toks...)
			toks = nil
			break strip
		default:
			break strip
		}
		stripped = append(stripped, toks[0])
		toks = toks[1:]
	}

	if len(toks) == 0 {
		if len(stripped) > 0 {
			var args []string
			for _, t := range stripped[1:] {
				args = append(args, t.val)
			}
			b.emitKeyword(f, stripped[0].val, args, stripped[0].start, stripped[len(stripped)-1].end)
		}
		return -1, -1
	}
	if st.depth > 0 {
		origin = OriginControlBody
	}

	c := command{origin: origin, start: toks[0].start, end: toks[len(toks)-1].end}
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		raw := f.src(t.start, t.end)
		if op := redirectOp(raw); op != "" && !strings.HasPrefix(raw[len(op):], "(") {
			r := raw
			if op == raw && i+1 < len(toks) {
				i++
				r += f.src(toks[i].start, toks[i].end)
			}
			c.redirs = append(c.redirs, r)
			continue
		}
		if len(c.words) == 0 && isAssignment(raw) {
			c.assigns = append(c.assigns, raw)
			continue
		}
		c.words = append(c.words, word{val: t.val, start: t.start, end: t.end, valStart: t.valStart})
	}

	if skip := b.expand(f, c); skip >= 0 {
		return c.words[skip].start, c.words[skip].end
	}
	return -1, -1
}
