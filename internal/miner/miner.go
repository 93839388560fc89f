// Package miner turns audited decisions into proposed rules for human
// review. Proposals are stored separately and never edit live rules.
package miner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/permgate/internal/core"
	"github.com/Dicklesworthstone/permgate/internal/db"
	"github.com/Dicklesworthstone/permgate/internal/rules"
)

// maxExamples caps the examples kept per proposal.
const maxExamples = 5

// Miner generalizes decision histories. It is stateless between runs.
type Miner struct {
	minCount      int
	minConfidence float64
	root          string
	detector      *core.Detector
	existing      map[string]bool
	logger        *log.Logger
}

// Option configures a Miner.
type Option func(*Miner)

// WithThresholds sets the minimum occurrence count and confidence a
// proposal needs.
func WithThresholds(minCount int, minConfidence float64) Option {
	return func(m *Miner) {
		m.minCount = minCount
		m.minConfidence = minConfidence
	}
}

// WithRoot sets the root path proposals are made relative to.
func WithRoot(root string) Option {
	return func(m *Miner) { m.root = root }
}

// WithExisting skips proposals identical to configured rules.
func WithExisting(allow, deny []string) Option {
	return func(m *Miner) {
		for _, r := range allow {
			m.existing["allow|"+r] = true
		}
		for _, r := range deny {
			m.existing["deny|"+r] = true
		}
	}
}

// WithDetector replaces the detector used for risk scoring.
func WithDetector(d *core.Detector) Option {
	return func(m *Miner) { m.detector = d }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Miner) { m.logger = l }
}

// New returns a Miner with defaults of 3 occurrences and 0.6 confidence.
func New(opts ...Option) *Miner {
	m := &Miner{
		minCount:      3,
		minConfidence: 0.6,
		existing:      make(map[string]bool),
		logger:        log.Default().WithPrefix("miner"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.detector == nil {
		m.detector = core.NewDetector()
	}
	return m
}

type bucket struct {
	rule     string
	tool     string
	list     string
	count    int
	risk     float64
	examples []string
	seen     map[string]bool
}

func (b *bucket) add(example string, risk float64) {
	b.count++
	if risk > b.risk {
		b.risk = risk
	}
	if !b.seen[example] && len(b.examples) < maxExamples {
		b.seen[example] = true
		b.examples = append(b.examples, example)
	}
}

// Mine generalizes records into proposals that meet the thresholds, most
// confident first. Only ask and pass decisions are mined: allowed and denied
// subjects are already covered by a rule or the detector.
func (m *Miner) Mine(records []*db.Decision) []*db.Proposal {
	buckets := make(map[string]*bucket)
	var order []string
	get := func(list, rule, tool string) *bucket {
		key := list + "|" + rule
		b, ok := buckets[key]
		if !ok {
			b = &bucket{rule: rule, tool: tool, list: list, seen: make(map[string]bool)}
			buckets[key] = b
			order = append(order, key)
		}
		return b
	}

	for _, rec := range records {
		if rec.Decision != string(core.VerdictAsk) && rec.Decision != string(core.VerdictPass) {
			continue
		}
		if rec.Tool == rules.BashTool {
			for _, c := range generalizeCommand(rec.Subject) {
				det := m.detector.ClassifyCommand(c.cmd)
				list := "allow"
				if det.Severity == core.SeverityDeny {
					list = "deny"
				}
				get(list, c.rule, rules.BashTool).add(rec.Subject, commandRisk(c, det))
			}
			continue
		}
		if !rules.IsFileTool(rec.Tool) {
			get("allow", rec.Tool, rec.Tool).add(rec.Tool, toolRisk)
			continue
		}
		rule, ok := GeneralizePath(rec.Tool, rec.Subject, m.root)
		if !ok {
			continue
		}
		get("allow", rule, rec.Tool).add(rec.Subject, pathRisk(rec.Tool, rec.Subject))
	}

	var out []*db.Proposal
	for _, key := range order {
		b := buckets[key]
		if m.existing[key] {
			continue
		}
		if _, err := rules.ParseRule(b.rule); err != nil {
			m.logger.Debug("dropping invalid candidate", "rule", b.rule, "err", err)
			continue
		}
		conf := confidence(b)
		if b.count < m.minCount || conf < m.minConfidence {
			continue
		}
		out = append(out, &db.Proposal{
			Rule:       b.rule,
			List:       b.list,
			Tool:       b.tool,
			Count:      b.count,
			Risk:       round(b.risk),
			Confidence: round(conf),
			Examples:   b.examples,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Count > out[j].Count
	})
	return out
}

// Report summarizes a Run.
type Report struct {
	Decisions int            `json:"decisions" yaml:"decisions"`
	Proposals []*db.Proposal `json:"proposals" yaml:"proposals"`
}

// Run mines every decision recorded since since (all when zero) and stores
// the proposals.
func (m *Miner) Run(ctx context.Context, database *db.DB, since time.Time) (Report, error) {
	records, err := database.ListDecisions(ctx, db.DecisionFilter{Since: since})
	if err != nil {
		return Report{}, fmt.Errorf("loading decisions: %w", err)
	}
	report := Report{Decisions: len(records)}
	for _, p := range m.Mine(records) {
		if err := database.UpsertProposal(ctx, p); err != nil {
			return report, err
		}
		report.Proposals = append(report.Proposals, p)
	}
	m.logger.Info("mined decisions", "decisions", report.Decisions, "proposals", len(report.Proposals))
	return report, nil
}

// Permissions is the agent settings shape accepted proposals export to.
type Permissions struct {
	Allow []string `json:"allow" yaml:"allow"`
	Deny  []string `json:"deny" yaml:"deny"`
}

// Export collects the rules of proposals into allow and deny lists.
func Export(proposals []*db.Proposal) Permissions {
	p := Permissions{Allow: []string{}, Deny: []string{}}
	for _, prop := range proposals {
		if prop.List == "deny" {
			p.Deny = append(p.Deny, prop.Rule)
		} else {
			p.Allow = append(p.Allow, prop.Rule)
		}
	}
	return p
}
