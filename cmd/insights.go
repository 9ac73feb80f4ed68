package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/chattia/internal/db"
	"github.com/ziadkadry99/chattia/internal/turnlog"
)

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Summarize the turn log",
	Long: `Prints how turns were answered (by path and provider), the tokens spent,
and the questions most often escalated. Those questions are candidates for
new entries in the content pack.`,
	RunE: runInsights,
}

func init() {
	insightsCmd.Flags().Bool("json", false, "output the snapshot as JSON")
	insightsCmd.Flags().Bool("clear", false, "delete all logged turns")
	insightsCmd.Flags().Duration("older-than", 0, "delete turns older than this (e.g. 720h)")
	rootCmd.AddCommand(insightsCmd)
}

func runInsights(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	clearAll, _ := cmd.Flags().GetBool("clear")
	olderThan, _ := cmd.Flags().GetDuration("older-than")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.LogDB == "" {
		return fmt.Errorf("log_db is not configured")
	}
	database, err := db.Open(cfg.LogDB)
	if err != nil {
		return fmt.Errorf("opening turn log: %w", err)
	}
	defer database.Close()
	store := turnlog.NewStore(database)

	switch {
	case clearAll:
		n, err := store.Clear(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d turns.\n", n)
		return nil
	case olderThan > 0:
		n, err := store.DeleteBefore(ctx, time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d turns older than %s.\n", n, olderThan)
		return nil
	}

	snap, err := store.Snapshot(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	printSnapshot(snap)
	return nil
}

func printSnapshot(snap *turnlog.Snapshot) {
	fmt.Printf("Turns: %d\n", snap.Total)
	fmt.Printf("Tokens spent: %d\n", snap.Spent)

	if len(snap.ByPath) > 0 {
		fmt.Println("\nBy path:")
		for _, k := range sortedKeys(snap.ByPath) {
			fmt.Printf("  %-10s %d\n", k, snap.ByPath[k])
		}
	}
	if len(snap.ByProvider) > 0 {
		fmt.Println("\nTokens by provider:")
		for _, k := range sortedKeys(snap.ByProvider) {
			fmt.Printf("  %-12s %d\n", k, snap.ByProvider[k])
		}
	}
	if len(snap.Candidates) > 0 {
		fmt.Println("\nPack candidates (escalated questions):")
		for i, c := range snap.Candidates {
			fmt.Printf("  %2d. %s (%d)\n", i+1, truncate(c.Question, 100), c.Count)
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
