package shell

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

func parseBash(text string) (*syntax.File, error) {
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	return parser.Parse(strings.NewReader(text), "")
}

func offset(p syntax.Pos) int { return int(p.Offset()) }

func (b *builder) stmts(f frame, list []*syntax.Stmt, origin Origin) {
	for _, s := range list {
		b.stmt(f, s, origin)
	}
}

func (b *builder) stmt(f frame, s *syntax.Stmt, origin Origin) {
	if s == nil {
		return
	}
	switch cmd := s.Cmd.(type) {
	case nil:
		// "> file" on its own still truncates the file.
		if len(s.Redirs) > 0 {
			b.emit(f, command{
				redirs: b.redirs(f, s.Redirs),
				start:  offset(s.Redirs[0].Pos()),
				end:    offset(s.Redirs[len(s.Redirs)-1].End()),
				origin: origin,
			})
		}
	case *syntax.CallExpr:
		b.call(f, s, cmd, origin)
		return
	case *syntax.DeclClause:
		b.decl(f, s, cmd, origin)
		return
	case *syntax.BinaryCmd:
		b.stmt(f, cmd.X, origin)
		b.stmt(f, cmd.Y, origin)
	case *syntax.Subshell:
		b.stmts(f, cmd.Stmts, origin)
	case *syntax.Block:
		b.stmts(f, cmd.Stmts, origin)
	case *syntax.IfClause:
		b.keyword(f, "if", cmd.Pos())
		for ic := cmd; ic != nil; ic = ic.Else {
			b.stmts(f, ic.Cond, OriginControlBody)
			b.stmts(f, ic.Then, OriginControlBody)
		}
	case *syntax.WhileClause:
		if cmd.Until {
			b.keyword(f, "until", cmd.Pos())
		} else {
			b.keyword(f, "while", cmd.Pos())
		}
		b.stmts(f, cmd.Cond, OriginControlBody)
		b.stmts(f, cmd.Do, OriginControlBody)
	case *syntax.ForClause:
		if cmd.Select {
			b.keyword(f, "select", cmd.Pos())
		} else {
			b.keyword(f, "for", cmd.Pos())
		}
		b.substs(f, cmd.Loop)
		b.stmts(f, cmd.Do, OriginControlBody)
	case *syntax.CaseClause:
		b.keyword(f, "case", cmd.Pos())
		b.substs(f, cmd.Word)
		for _, item := range cmd.Items {
			for _, p := range item.Patterns {
				b.substs(f, p)
			}
			b.stmts(f, item.Stmts, OriginControlBody)
		}
	case *syntax.FuncDecl:
		b.stmt(f, cmd.Body, OriginControlBody)
	case *syntax.TimeClause:
		b.stmt(f, cmd.Stmt, OriginUnwrapped)
	case *syntax.CoprocClause:
		b.stmt(f, cmd.Stmt, OriginUnwrapped)
	default:
		// [[ ]], (( )) and let run nothing but their substitutions.
		b.substs(f, cmd)
	}
	b.redirSubsts(f, s.Redirs)
}

func (b *builder) keyword(f frame, name string, pos syntax.Pos) {
	start := offset(pos)
	b.emitKeyword(f, name, nil, start, start+len(name))
}

func (b *builder) call(f frame, s *syntax.Stmt, ce *syntax.CallExpr, origin Origin) {
	c := command{origin: origin}
	c.start, c.end = extent(s, ce)
	for _, a := range ce.Assigns {
		c.assigns = append(c.assigns, f.src(offset(a.Pos()), offset(a.End())))
	}
	for _, w := range ce.Args {
		c.words = append(c.words, b.word(f, w))
	}
	c.redirs = b.redirs(f, s.Redirs)

	skip := b.expand(f, c)

	for _, a := range ce.Assigns {
		b.substs(f, a)
	}
	for i, w := range ce.Args {
		if i != skip {
			b.substs(f, w)
		}
	}
	b.redirSubsts(f, s.Redirs)
}

func (b *builder) decl(f frame, s *syntax.Stmt, dc *syntax.DeclClause, origin Origin) {
	c := command{origin: origin, redirs: b.redirs(f, s.Redirs)}
	c.start, c.end = extent(s, dc)
	if dc.Variant != nil {
		start, end := offset(dc.Variant.Pos()), offset(dc.Variant.End())
		c.words = append(c.words, word{val: dc.Variant.Value, start: start, end: end, valStart: start})
	}
	for _, a := range dc.Args {
		start, end := offset(a.Pos()), offset(a.End())
		c.words = append(c.words, word{val: f.src(start, end), start: start, end: end, valStart: start})
	}
	b.emit(f, c)
	b.substs(f, dc)
	b.redirSubsts(f, s.Redirs)
}

// extent is the span of a command including redirections written before or
// after it.
func extent(s *syntax.Stmt, n syntax.Node) (int, int) {
	start, end := offset(n.Pos()), offset(n.End())
	for _, r := range s.Redirs {
		if p := offset(r.Pos()); p < start {
			start = p
		}
		if e := offset(r.End()); e > end {
			end = e
		}
	}
	return start, end
}

func (b *builder) word(f frame, w *syntax.Word) word {
	start, end := offset(w.Pos()), offset(w.End())
	raw := f.src(start, end)
	val := unquote(f, w.Parts, false)
	wd := word{val: val, start: start, end: end, valStart: -1}
	switch {
	case val == raw:
		wd.valStart = start
	case len(raw) >= 2 && (raw[0] == '\'' || raw[0] == '"') && raw[len(raw)-1] == raw[0] && raw[1:len(raw)-1] == val:
		wd.valStart = start + 1
	}
	return wd
}

// unquote returns the value of a word with quotes and escapes removed.
// Expansions keep their source text.
func unquote(f frame, parts []syntax.WordPart, dquoted bool) string {
	var sb strings.Builder
	for _, part := range parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(unescape(p.Value, dquoted))
		case *syntax.SglQuoted:
			if p.Dollar {
				sb.WriteString(f.src(offset(p.Pos()), offset(p.End())))
			} else {
				sb.WriteString(p.Value)
			}
		case *syntax.DblQuoted:
			sb.WriteString(unquote(f, p.Parts, true))
		default:
			sb.WriteString(f.src(offset(part.Pos()), offset(part.End())))
		}
	}
	return sb.String()
}

func unescape(s string, dquoted bool) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			next := s[i+1]
			switch {
			case next == '\n':
				i++
				continue
			case !dquoted || strings.IndexByte("$`\"\\", next) >= 0:
				sb.WriteByte(next)
				i++
				continue
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func (b *builder) redirs(f frame, list []*syntax.Redirect) []string {
	var out []string
	for _, r := range list {
		var sb strings.Builder
		if r.N != nil {
			sb.WriteString(r.N.Value)
		}
		sb.WriteString(r.Op.String())
		if r.Word != nil {
			sb.WriteString(f.src(offset(r.Word.Pos()), offset(r.Word.End())))
		}
		out = append(out, sb.String())
	}
	return out
}

func (b *builder) redirSubsts(f frame, list []*syntax.Redirect) {
	for _, r := range list {
		if r.Word != nil {
			b.substs(f, r.Word)
		}
		if r.Hdoc != nil {
			b.substs(f, r.Hdoc)
		}
	}
}

// substs decomposes every command and process substitution under node.
func (b *builder) substs(f frame, node syntax.Node) {
	if node == nil {
		return
	}
	syntax.Walk(node, func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.CmdSubst:
			b.stmts(f, n.Stmts, OriginSubstitution)
			return false
		case *syntax.ProcSubst:
			b.stmts(f, n.Stmts, OriginSubstitution)
			return false
		}
		return true
	})
}
