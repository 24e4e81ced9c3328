package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brackendale/ledgerpilot/internal/rules"
	"github.com/brackendale/ledgerpilot/internal/store"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the rule file and rule performance",
	}

	cmd.PersistentFlags().String("rules", "", "rule file (default: rules.yaml)")
	_ = viper.BindPFlag("rules.path", cmd.PersistentFlags().Lookup("rules"))

	cmd.AddCommand(rulesLintCmd())
	cmd.AddCommand(rulesFmtCmd())
	cmd.AddCommand(rulesStatsCmd())
	return cmd
}

func rulesLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Validate the rule file and report malformed rules",
		RunE: func(_ *cobra.Command, _ []string) error {
			path := viper.GetString("rules.path")
			if path == "" {
				path = "rules.yaml"
			}

			set, err := rules.Load(path)
			if err != nil {
				return err
			}

			fmt.Printf("%s: %d rules OK\n", path, set.Len())
			return nil
		},
	}
}

func rulesFmtCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fmt",
		Short: "Rewrite the rule file in canonical form",
		RunE: func(_ *cobra.Command, _ []string) error {
			path := viper.GetString("rules.path")
			if path == "" {
				path = "rules.yaml"
			}

			set, err := rules.Load(path)
			if err != nil {
				return err
			}
			if err := rules.Save(path, set); err != nil {
				return err
			}

			fmt.Printf("%s: rewrote %d rules\n", path, set.Len())
			return nil
		},
	}
}

func rulesStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print persisted usage counters per rule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.Open(usageDBPath())
			if err != nil {
				return fmt.Errorf("failed to open usage store: %w", err)
			}
			defer func() { _ = st.Close() }()

			usage, err := st.Usage(cmd.Context())
			if err != nil {
				return err
			}
			if len(usage) == 0 {
				fmt.Println("No usage recorded yet.")
				return nil
			}

			ids := make([]string, 0, len(usage))
			for id := range usage {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			fmt.Printf("%-30s %8s %8s %10s  %s\n", "RULE", "MATCHED", "APPLIED", "OVERRIDDEN", "LAST USED")
			for _, id := range ids {
				u := usage[id]
				lastUsed := "-"
				if !u.LastUsed.IsZero() {
					lastUsed = u.LastUsed.Local().Format("2006-01-02 15:04")
				}
				fmt.Printf("%-30s %8d %8d %10d  %s\n", id, u.Matched, u.Applied, u.Overridden, lastUsed)
			}
			return nil
		},
	}
}
