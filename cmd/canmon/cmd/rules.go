package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/roffe/canmon/pkg/filter"
	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Edit the filter rules stored in the project file",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List filter rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, eng, err := projectEngine(cmd)
		if err != nil {
			return err
		}
		printRules(eng.Rules())
		return nil
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add [expression]",
	Short: "Add a filter rule, prompts for anything not given",
	Long: `Add a filter rule. Expressions look like:

  +id 0x123          include identifier 0x123
  -id 0x700/0x700    exclude identifiers 0x700-0x7FF
  exclude data FF ?? exclude frames whose first byte is 0xFF`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, eng, err := projectEngine(cmd)
		if err != nil {
			return err
		}
		expr := strings.Join(args, " ")
		if expr == "" {
			if expr, err = promptRule(); err != nil {
				return err
			}
		}
		r, err := eng.AddExpr(expr)
		if err != nil {
			return err
		}
		if err := saveEngine(path, eng); err != nil {
			return err
		}
		fmt.Printf("added %s\n", r)
		return nil
	},
}

var rulesRemoveCmd = &cobra.Command{
	Use:     "rm <index>",
	Aliases: []string{"remove"},
	Short:   "Remove a filter rule by its list index",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, eng, err := projectEngine(cmd)
		if err != nil {
			return err
		}
		r, err := ruleAt(eng, args[0])
		if err != nil {
			return err
		}
		if err := eng.Remove(r.ID); err != nil {
			return err
		}
		if err := saveEngine(path, eng); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", r)
		return nil
	},
}

var rulesToggleCmd = &cobra.Command{
	Use:   "toggle <index>",
	Short: "Enable or disable a filter rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, eng, err := projectEngine(cmd)
		if err != nil {
			return err
		}
		r, err := ruleAt(eng, args[0])
		if err != nil {
			return err
		}
		if r, err = eng.Toggle(r.ID); err != nil {
			return err
		}
		if err := saveEngine(path, eng); err != nil {
			return err
		}
		fmt.Printf("toggled %s\n", r)
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesRemoveCmd, rulesToggleCmd)
	rootCmd.AddCommand(rulesCmd)
}

func projectEngine(cmd *cobra.Command) (string, *filter.Engine, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return "", nil, err
	}
	eng, err := loadEngine(s.Monitor.Project)
	if err != nil {
		return "", nil, err
	}
	return s.Monitor.Project, eng, nil
}

// ruleAt resolves a one based list index
func ruleAt(eng *filter.Engine, arg string) (filter.Rule, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return filter.Rule{}, fmt.Errorf("invalid rule index %q", arg)
	}
	rules := eng.Rules()
	if n < 1 || n > len(rules) {
		return filter.Rule{}, fmt.Errorf("%w: index %d, have %d rules", filter.ErrUnknownRule, n, len(rules))
	}
	return rules[n-1], nil
}

func printRules(rules []filter.Rule) {
	if len(rules) == 0 {
		fmt.Println("no rules, every frame is visible")
		return
	}
	off := color.New(color.Faint).SprintFunc()
	for i, r := range rules {
		line := fmt.Sprintf("%3d  %s", i+1, r)
		if !r.Enabled {
			line = off(line)
		}
		fmt.Println(line)
	}
}

func promptRule() (string, error) {
	modeSel := promptui.Select{
		Label:    "Mode",
		HideHelp: true,
		Items:    []string{filter.Include.String(), filter.Exclude.String()},
	}
	_, mode, err := modeSel.Run()
	if err != nil {
		return "", err
	}

	kindSel := promptui.Select{
		Label:    "Match on",
		HideHelp: true,
		Items:    []string{filter.KindID.String(), filter.KindData.String()},
	}
	_, kind, err := kindSel.Run()
	if err != nil {
		return "", err
	}

	label := "Identifier (0x123 or 0x700/0x700)"
	if kind == filter.KindData.String() {
		label = "Data pattern (FF ?? 00)"
	}
	value := promptui.Prompt{
		Label: label,
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("value required")
			}
			_, _, err := filter.ParseRule(fmt.Sprintf("%s %s %s", mode, kind, s))
			return err
		},
	}
	v, err := value.Run()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", mode, kind, v), nil
}
