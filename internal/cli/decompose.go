package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/permgate/internal/output"
	"github.com/Dicklesworthstone/permgate/internal/shell"
)

var flagDecomposeKeywords bool

func init() {
	decomposeCmd.Flags().BoolVar(&flagDecomposeKeywords, "keywords", false, "include control keywords (for, if, ...) as records")
	rootCmd.AddCommand(decomposeCmd)
}

var decomposeCmd = &cobra.Command{
	Use:   "decompose <command>",
	Short: "Show the simple commands a command line splits into",
	Long: `Show the simple commands a command line splits into.

Wrappers such as sudo, timeout and bash -c are unwrapped; command
substitutions and control-structure bodies are extracted. The tier tells
whether the precise parser or the lenient scanner produced the split.
  permgate decompose "FOO=1 sudo -u me bash -c 'make && make install' > log"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		var opts []shell.Option
		if flagDecomposeKeywords {
			opts = append(opts, shell.WithKeywords())
		}
		dec := shell.Decompose(strings.Join(args, " "), opts...)
		return out.Write(newDecomposeView(dec))
	},
}

type commandView struct {
	Name         string      `json:"name"`
	Args         []string    `json:"args"`
	Assignments  []string    `json:"assignments"`
	Redirections []string    `json:"redirections"`
	Range        shell.Range `json:"range"`
	Origin       string      `json:"origin"`
	Raw          string      `json:"raw"`
	Sudo         bool        `json:"sudo,omitempty"`
}

type decomposeView struct {
	Input      string        `json:"input"`
	Tier       string        `json:"tier"`
	Uncertain  bool          `json:"uncertain"`
	ParseError string        `json:"parse_error,omitempty"`
	Commands   []commandView `json:"commands"`
}

func newDecomposeView(dec *shell.Decomposition) decomposeView {
	v := decomposeView{
		Input:      dec.Input,
		Tier:       dec.Tier.String(),
		Uncertain:  dec.Uncertain,
		ParseError: dec.ParseError,
		Commands:   make([]commandView, 0, len(dec.Commands)),
	}
	for _, c := range dec.Commands {
		v.Commands = append(v.Commands, commandView{
			Name:         c.Name,
			Args:         orEmpty(c.Args),
			Assignments:  orEmpty(c.Assignments),
			Redirections: orEmpty(c.Redirections),
			Range:        c.Range,
			Origin:       c.Origin.String(),
			Raw:          c.Raw,
			Sudo:         c.Sudo,
		})
	}
	return v
}

// Text lists one command per line with its origin and byte range.
func (v decomposeView) Text(s *output.Styles) string {
	var b strings.Builder
	header := fmt.Sprintf("%d commands (%s tier)", len(v.Commands), v.Tier)
	if v.Uncertain {
		header += ", uncertain"
	}
	b.WriteString(s.Head.Render(header) + "\n")
	if v.ParseError != "" {
		b.WriteString(s.Dim.Render("  parse error: "+v.ParseError) + "\n")
	}
	for i, c := range v.Commands {
		fmt.Fprintf(&b, "%3d. %s %s %s\n", i+1,
			s.Key.Render(fmt.Sprintf("%-12s", c.Origin)),
			c.Raw,
			s.Dim.Render(fmt.Sprintf("[%d:%d]", c.Range.Start, c.Range.End)),
		)
	}
	return b.String()
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
