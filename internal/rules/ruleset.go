package rules

// RuleSet is an ordered, read-only list of rules.
type RuleSet struct {
	rules   []Rule
	invalid []error
}

// NewRuleSet parses specs in order. Invalid rules are kept (they never match)
// and reported by Errors.
func NewRuleSet(specs []string) *RuleSet {
	rules, errs := ParseAll(specs)
	return &RuleSet{rules: rules, invalid: errs}
}

// Len returns the number of rules, invalid ones included.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Rules returns a copy of the rules.
func (rs *RuleSet) Rules() []Rule {
	if rs == nil {
		return nil
	}
	return append([]Rule(nil), rs.rules...)
}

// Errors returns the parse errors of invalid rules.
func (rs *RuleSet) Errors() []error {
	if rs == nil {
		return nil
	}
	return rs.invalid
}

// MatchCommand returns the first Bash rule matching cmd.
func (rs *RuleSet) MatchCommand(cmd string) (Rule, bool) {
	if rs == nil {
		return Rule{}, false
	}
	for _, r := range rs.rules {
		if r.MatchCommand(cmd) {
			return r, true
		}
	}
	return Rule{}, false
}

// MatchPath evaluates the rules for tool in order, gitignore style: the last
// rule whose pattern matches p decides, and a "!pattern" rule un-matches. When
// the first rule for the tool is negated the set starts out matching, so a
// lone "Edit(!node_modules/**)" means "every path except node_modules".
//
// Paths that traverse upwards, or leave root, match nothing here, negated
// rules included. Use MatchDenyPath for deny lists.
func (rs *RuleSet) MatchPath(tool, p, root string) (Rule, bool) {
	return rs.matchPath(tool, p, root, true)
}

// MatchDenyPath is MatchPath for deny lists. p is first resolved against
// root, so "../proj/.env" inside /home/u/proj is judged as ".env". A rule that
// cannot judge the resolved path is treated as not matching it instead of
// voiding the whole set.
func (rs *RuleSet) MatchDenyPath(tool, p, root string) (Rule, bool) {
	return rs.matchPath(tool, Resolve(p, root), root, false)
}

func (rs *RuleSet) matchPath(tool, p, root string, strict bool) (Rule, bool) {
	if rs == nil {
		return Rule{}, false
	}
	var (
		matched bool
		by      Rule
		first   = true
	)
	for _, r := range rs.rules {
		if !r.AppliesTo(tool) || r.Tool == BashTool {
			continue
		}
		if r.Kind == KindTool {
			matched, by = true, r
			first = false
			continue
		}
		hit, ok := r.path.test(p, root)
		if !ok {
			if strict {
				return Rule{}, false
			}
			hit = false
		}
		if r.path.negated {
			if first {
				matched, by = true, r
			}
			if hit {
				matched = false
			}
		} else if hit {
			matched, by = true, r
		}
		first = false
	}
	if !matched {
		return Rule{}, false
	}
	return by, true
}
