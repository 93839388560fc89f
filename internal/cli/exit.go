package cli

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/permgate/internal/core"
)

// Exit codes of check --exit-code. 1 is left for ordinary errors.
const (
	ExitAllow = 0
	ExitDeny  = 2
	ExitAsk   = 3
	ExitPass  = 4
)

// ExitError asks main to exit with Code without printing anything; the
// command already wrote its output.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func exitForVerdict(v core.Verdict) error {
	switch v {
	case core.VerdictAllow:
		return nil
	case core.VerdictDeny:
		return &ExitError{Code: ExitDeny}
	case core.VerdictPass:
		return &ExitError{Code: ExitPass}
	default:
		return &ExitError{Code: ExitAsk}
	}
}

func commandLogger(name string) *log.Logger {
	return log.Default().WithPrefix(name)
}
