package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/axelsamuelson/crowdvine-sub005/internal/rules"
)

// RulesCheckResult is the JSON output of rules check.
type RulesCheckResult struct {
	Valid    bool          `json:"valid"`
	RuleSet  rules.RuleSet `json:"rule_set"`
	Rendered string        `json:"rendered"`
}

func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Work with completion rule files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a YAML or JSON rule set and print it as IF/ELSE IF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesCheck(rootOpts, args[0], cmd)
		},
	})
	return cmd
}

func runRulesCheck(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return f.Error(ExitCommandError, "file_not_found", err.Error(), nil)
	}

	var rs rules.RuleSet
	if strings.EqualFold(filepath.Ext(path), ".json") {
		rs, err = rules.Parse(data)
	} else {
		rs, err = rules.ParseYAML(data)
	}
	if err != nil {
		return f.Error(ExitFailure, "invalid_rules", err.Error(), map[string]string{"file": path})
	}

	res := RulesCheckResult{Valid: true, RuleSet: rs, Rendered: rs.String()}
	return f.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s is valid\n", path)
		fmt.Fprintln(w, res.Rendered)
	})
}
