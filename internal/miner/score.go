package miner

import (
	"math"
	"path"
	"strings"

	"github.com/Dicklesworthstone/permgate/internal/core"
)

// Risk estimates in [0, 1].
const (
	readOnlyRisk = 0.05
	buildRisk    = 0.15
	defaultRisk  = 0.25
	mutateRisk   = 0.5
	reviewRisk   = 0.8
	denyRisk     = 1.0
	toolRisk     = 0.3
	editRisk     = 0.15
)

var programRisk = map[string]float64{
	"ls": readOnlyRisk, "cat": readOnlyRisk, "head": readOnlyRisk, "tail": readOnlyRisk,
	"wc": readOnlyRisk, "grep": readOnlyRisk, "rg": readOnlyRisk, "find": readOnlyRisk,
	"echo": readOnlyRisk, "pwd": readOnlyRisk, "which": readOnlyRisk, "tree": readOnlyRisk,
	"diff": readOnlyRisk, "stat": readOnlyRisk, "file": readOnlyRisk, "jq": readOnlyRisk,

	"go": buildRisk, "make": buildRisk, "cargo": buildRisk, "npm": buildRisk,
	"yarn": buildRisk, "pnpm": buildRisk, "pytest": buildRisk, "tsc": buildRisk,
	"gradle": buildRisk, "mvn": buildRisk,

	"rm": mutateRisk, "mv": mutateRisk, "cp": mutateRisk, "chmod": mutateRisk,
	"chown": mutateRisk, "curl": mutateRisk, "wget": mutateRisk, "docker": mutateRisk,
	"kubectl": mutateRisk, "ssh": mutateRisk, "scp": mutateRisk,
}

var gitReadOnly = map[string]bool{
	"status": true, "diff": true, "log": true, "show": true, "branch": true,
	"blame": true, "rev-parse": true, "ls-files": true, "grep": true,
}

func commandRisk(c commandCandidate, det core.Detection) float64 {
	switch det.Severity {
	case core.SeverityDeny:
		return denyRisk
	case core.SeverityReview:
		return reviewRisk
	}
	if c.program == "git" {
		if len(c.words) > 1 && gitReadOnly[c.words[1]] {
			return readOnlyRisk
		}
		return toolRisk
	}
	if r, ok := programRisk[c.program]; ok {
		return r
	}
	return defaultRisk
}

// sensitiveNames raise the risk of path proposals.
var sensitiveNames = []string{".env", "secret", "credential", "id_rsa", "id_ed25519", ".pem", ".key", ".ssh", ".aws"}

func pathRisk(tool, p string) float64 {
	lower := strings.ToLower(p)
	for _, s := range sensitiveNames {
		if strings.Contains(lower, s) {
			return reviewRisk
		}
	}
	if path.IsAbs(p) {
		return mutateRisk
	}
	switch tool {
	case "Read", "Glob", "Grep", "LS":
		return readOnlyRisk
	}
	return editRisk
}

// confidence combines frequency with risk. Allow proposals lose confidence
// with risk; deny proposals rest on the detector and only need frequency.
func confidence(b *bucket) float64 {
	freq := float64(b.count) / float64(b.count+1)
	if b.list == "deny" {
		return freq
	}
	return freq * (1 - b.risk)
}

func round(f float64) float64 {
	return math.Round(f*1000) / 1000
}
