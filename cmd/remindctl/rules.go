package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tazhate/remindbot/internal/humanize"
	"github.com/tazhate/remindbot/internal/rule"
)

const maxCount = 50

var errInvalidRule = errors.New("rule is invalid")

const ruleArgHelp = `RULE is a wire rule in JSON or YAML: inline (starting with "{"), a file
path, or "-" for stdin.`

// readRule loads a wire rule given inline, as a file path or on stdin.
func readRule(arg string, stdin io.Reader) (rule.WireRule, error) {
	var data []byte
	switch {
	case strings.HasPrefix(strings.TrimSpace(arg), "{"):
		data = []byte(arg)
	case arg == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return rule.WireRule{}, fmt.Errorf("read stdin: %w", err)
		}
		data = b
	default:
		b, err := os.ReadFile(arg)
		if err != nil {
			return rule.WireRule{}, fmt.Errorf("read rule file: %w", err)
		}
		data = b
	}
	return rule.DecodeWire(data)
}

func printErrors(out io.Writer, errs rule.ValidationErrors, t humanize.Translator) {
	for _, e := range errs {
		msg := t.T(e.Key, nil)
		if e.Message != "" {
			msg += " (" + e.Message + ")"
		}
		fmt.Fprintf(out, "%s: %s\n", e.Path, msg)
	}
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate RULE",
		Short: "Check a schedule rule and list every problem",
		Long:  ruleArgHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := readRule(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			loc, err := a.location()
			if err != nil {
				return err
			}
			now, err := a.reference()
			if err != nil {
				return err
			}

			_, errs := rule.ValidateWire(w, loc, now)
			if len(errs) > 0 {
				printErrors(cmd.OutOrStdout(), errs, a.translator())
				return errInvalidRule
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func (a *app) nextCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "next RULE",
		Short: "Print the next fire instants of a schedule rule",
		Long:  ruleArgHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 || count > maxCount {
				return fmt.Errorf("--count must be between 1 and %d", maxCount)
			}
			w, err := readRule(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			loc, err := a.location()
			if err != nil {
				return err
			}
			now, err := a.reference()
			if err != nil {
				return err
			}

			r, errs := rule.ValidateWire(w, loc, now)
			if len(errs) > 0 {
				printErrors(cmd.OutOrStdout(), errs, a.translator())
				return errInvalidRule
			}
			fires := rule.Occurrences(r, loc, now, count)
			if len(fires) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no upcoming fires")
				return nil
			}
			for _, t := range fires {
				fmt.Fprintln(cmd.OutOrStdout(), t.In(loc).Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "how many instants to print")
	return cmd
}

func (a *app) describeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe RULE",
		Short: "Describe a schedule rule in plain language",
		Long:  ruleArgHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := readRule(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			t := a.translator()
			r, errs := rule.ParseWire(w)
			if len(errs) > 0 {
				printErrors(cmd.OutOrStdout(), errs, t)
				return errInvalidRule
			}
			fmt.Fprintln(cmd.OutOrStdout(), humanize.Describe(r, t))
			return nil
		},
	}
}
