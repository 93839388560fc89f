package shell

import (
	"regexp"
	"strings"
)

// token is one word or operator produced by the scanner.
type token struct {
	// val is the word with quotes and escapes removed. Substitutions are
	// kept as their source text.
	val string
	// start and end are byte offsets into the scanned text.
	start int
	end   int
	// valStart is the offset of val in the scanned text when val maps onto
	// it byte for byte, -1 otherwise.
	valStart int
	// op is set for operator tokens (";", "&&", "||", "|", "&", "\n", ...).
	op string
}

func (t token) isOp() bool { return t.op != "" }

// span is the inner text range of a command substitution.
type span struct {
	start int
	end   int
}

// scanResult is what the scanner found in one piece of text.
type scanResult struct {
	tokens []token
	spans  []span
	// unclosed is set when a quote or substitution ran off the end.
	unclosed bool
}

// scan splits text into words and operators. It never fails: unterminated
// constructs swallow the rest of the input and set unclosed.
func scan(src string) scanResult {
	s := &scanner{src: src}
	s.run()
	return scanResult{tokens: s.toks, spans: s.spans, unclosed: s.unclosed}
}

type scanner struct {
	src      string
	i        int
	toks     []token
	spans    []span
	unclosed bool

	inTok bool
	start int
	val   strings.Builder
}

func (s *scanner) begin() {
	if !s.inTok {
		s.inTok = true
		s.start = s.i
		s.val.Reset()
	}
}

func (s *scanner) finish() {
	if !s.inTok {
		return
	}
	end := s.i
	raw := s.src[s.start:end]
	val := s.val.String()
	t := token{val: val, start: s.start, end: end, valStart: -1}
	switch {
	case val == raw:
		t.valStart = s.start
	case len(raw) >= 2 && (raw[0] == '\'' || raw[0] == '"') && raw[len(raw)-1] == raw[0] && raw[1:len(raw)-1] == val:
		t.valStart = s.start + 1
	}
	s.toks = append(s.toks, t)
	s.inTok = false
}

func (s *scanner) op(text string) {
	s.finish()
	s.toks = append(s.toks, token{op: text, start: s.i, end: s.i + len(text), valStart: -1})
	s.i += len(text)
}

func (s *scanner) peek(off int) byte {
	if s.i+off < len(s.src) {
		return s.src[s.i+off]
	}
	return 0
}

// curRaw returns the source text of the token being built.
func (s *scanner) curRaw() string {
	if !s.inTok {
		return ""
	}
	return s.src[s.start:s.i]
}

func (s *scanner) run() {
	for s.i < len(s.src) {
		c := s.src[s.i]
		switch c {
		case ' ', '\t', '\r':
			s.finish()
			s.i++
		case '\n':
			s.op("\n")
		case '#':
			if s.inTok {
				s.val.WriteByte(c)
				s.i++
				continue
			}
			// Comment runs to end of line.
			if j := strings.IndexByte(s.src[s.i:], '\n'); j >= 0 {
				s.i += j
			} else {
				s.i = len(s.src)
			}
		case '\\':
			s.begin()
			if s.i+1 >= len(s.src) {
				s.i++
				continue
			}
			if s.src[s.i+1] != '\n' {
				s.val.WriteByte(s.src[s.i+1])
			}
			s.i += 2
		case '\'':
			s.begin()
			j := strings.IndexByte(s.src[s.i+1:], '\'')
			if j < 0 {
				s.unclosed = true
				s.val.WriteString(s.src[s.i+1:])
				s.i = len(s.src)
				continue
			}
			s.val.WriteString(s.src[s.i+1 : s.i+1+j])
			s.i += j + 2
		case '"':
			s.begin()
			s.doubleQuoted()
		case '$':
			s.begin()
			s.dollar()
		case '`':
			s.begin()
			s.backtick()
		case '<', '>':
			if s.peek(1) == '(' {
				s.begin()
				s.subst(s.i+2, s.i)
				continue
			}
			if raw := s.curRaw(); raw != "" && !redirectPrefixOnly(raw) {
				s.finish()
			}
			s.begin()
			s.val.WriteByte(c)
			s.i++
		case '&':
			switch {
			case s.peek(1) == '&':
				s.op("&&")
			case s.peek(1) == '>':
				s.finish()
				s.begin()
				s.val.WriteByte(c)
				s.i++
			case strings.HasSuffix(s.curRaw(), ">") || strings.HasSuffix(s.curRaw(), "<"):
				s.val.WriteByte(c)
				s.i++
			default:
				s.op("&")
			}
		case '|':
			switch {
			case s.peek(1) == '|':
				s.op("||")
			case strings.HasSuffix(s.curRaw(), ">"):
				s.val.WriteByte(c)
				s.i++
			case s.peek(1) == '&':
				s.op("|&")
			default:
				s.op("|")
			}
		case ';':
			if s.peek(1) == ';' {
				s.op(";;")
			} else {
				s.op(";")
			}
		case '(', ')':
			s.op(string(c))
		default:
			s.begin()
			s.val.WriteByte(c)
			s.i++
		}
	}
	s.finish()
}

// doubleQuoted consumes a "..." span starting at s.i.
func (s *scanner) doubleQuoted() {
	j := s.i + 1
	for j < len(s.src) {
		c := s.src[j]
		switch {
		case c == '\\' && j+1 < len(s.src) && strings.IndexByte("\\\"$`\n", s.src[j+1]) >= 0:
			if s.src[j+1] != '\n' {
				s.val.WriteByte(s.src[j+1])
			}
			j += 2
		case c == '"':
			s.i = j + 1
			return
		case c == '$' && j+1 < len(s.src) && s.src[j+1] == '(' && !(j+2 < len(s.src) && s.src[j+2] == '('):
			s.i = j
			s.subst(j+2, j)
			if s.i >= len(s.src) {
				return
			}
			j = s.i
		case c == '`':
			s.i = j
			s.backtick()
			if s.i >= len(s.src) {
				return
			}
			j = s.i
		default:
			s.val.WriteByte(c)
			j++
		}
	}
	s.unclosed = true
	s.i = len(s.src)
}

// dollar consumes $name, ${...}, $(...) and $((...)) starting at s.i.
func (s *scanner) dollar() {
	switch s.peek(1) {
	case '(':
		if s.peek(2) == '(' {
			end := matchClose(s.src, s.i+3, '(', ')')
			if end >= 0 && end+1 < len(s.src) && s.src[end+1] == ')' {
				s.val.WriteString(s.src[s.i : end+2])
				s.i = end + 2
				return
			}
		}
		s.subst(s.i+2, s.i)
	case '{':
		end := matchClose(s.src, s.i+2, '{', '}')
		if end < 0 {
			s.unclosed = true
			s.val.WriteString(s.src[s.i:])
			s.i = len(s.src)
			return
		}
		s.val.WriteString(s.src[s.i : end+1])
		s.i = end + 1
	default:
		s.val.WriteByte('$')
		s.i++
	}
}

// subst records the substitution whose inner text starts at inner and whose
// opening sequence starts at open, then advances past the closing paren.
func (s *scanner) subst(inner, open int) {
	end := matchClose(s.src, inner, '(', ')')
	if end < 0 {
		s.unclosed = true
		s.spans = append(s.spans, span{start: inner, end: len(s.src)})
		s.val.WriteString(s.src[open:])
		s.i = len(s.src)
		return
	}
	s.spans = append(s.spans, span{start: inner, end: end})
	s.val.WriteString(s.src[open : end+1])
	s.i = end + 1
}

// backtick consumes a `...` span starting at s.i.
func (s *scanner) backtick() {
	j := s.i + 1
	for j < len(s.src) {
		if s.src[j] == '\\' {
			j += 2
			continue
		}
		if s.src[j] == '`' {
			s.spans = append(s.spans, span{start: s.i + 1, end: j})
			s.val.WriteString(s.src[s.i : j+1])
			s.i = j + 1
			return
		}
		j++
	}
	s.unclosed = true
	s.spans = append(s.spans, span{start: s.i + 1, end: len(s.src)})
	s.val.WriteString(s.src[s.i:])
	s.i = len(s.src)
}

// matchClose returns the index of the close byte that balances an already
// consumed open byte, scanning from i. Quotes and escapes are honoured.
// Returns -1 when the input ends first.
func matchClose(src string, i int, open, close byte) int {
	depth := 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\\':
			i += 2
			continue
		case c == '\'':
			j := strings.IndexByte(src[i+1:], '\'')
			if j < 0 {
				return -1
			}
			i += j + 2
			continue
		case c == '"':
			j := i + 1
			for j < len(src) && src[j] != '"' {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(src) {
				return -1
			}
			i = j + 1
			continue
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return i
			}
		}
		i++
	}
	return -1
}

// redirectPrefixOnly reports whether raw is made only of file descriptor
// digits and redirection operator bytes ("2>", ">>", "&>").
func redirectPrefixOnly(raw string) bool {
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if (c < '0' || c > '9') && c != '<' && c != '>' && c != '&' {
			return false
		}
	}
	return true
}

var (
	redirectRe   = regexp.MustCompile(`^[0-9]*(&>>|&>|>>|>&|>\||<&|<<<|<<-|<<|<>|>|<)`)
	assignmentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\[[^\]]*\])?\+?=`)
)

// redirectOp returns the operator prefix of a redirection token's source
// text, or "" if raw is not a redirection.
func redirectOp(raw string) string {
	return redirectRe.FindString(raw)
}

// isAssignment reports whether raw looks like NAME=value.
func isAssignment(raw string) bool {
	return assignmentRe.MatchString(raw)
}
