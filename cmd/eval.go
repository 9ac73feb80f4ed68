package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/chattia/internal/eval"
	"github.com/ziadkadry99/chattia/internal/gate"
	"github.com/ziadkadry99/chattia/internal/progress"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Measure how many questions the content pack answers locally",
	Long: `Runs every question in a file (one per line) through the local resolver
only, without calling any model, and reports the hit rate and the questions
the pack does not cover.`,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringP("file", "f", "", "questions file, one per line")
	evalCmd.Flags().String("lang", "en", "question language: en or es")
	evalCmd.Flags().Bool("json", false, "output the report as JSON")
	evalCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	lang, _ := cmd.Flags().GetString("lang")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening questions: %w", err)
	}
	defer f.Close()
	questions, err := eval.ReadQuestions(f)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		fmt.Println("No questions found.")
		return nil
	}

	st, err := newStack(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	c, err := st.corpus.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("loading content pack: %w", err)
	}

	var reporter progress.Reporter = progress.Nop{}
	if !jsonOutput {
		reporter = progress.NewReporter()
	}
	report := eval.Run(c, questions, eval.Options{
		Lang:       gate.NormalizeLang(lang),
		Confidence: cfg.Tier1.Confidence,
		Coverage:   cfg.Tier1.Coverage,
	}, reporter)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("Answered locally: %d/%d (%.1f%%)\n", report.Hits, report.Total, report.HitRate()*100)
	if len(report.Misses) > 0 {
		fmt.Printf("\nNot covered:\n")
		for i, m := range report.Misses {
			best := "no match"
			if m.BestID != "" {
				best = fmt.Sprintf("%d match(es), best %s", m.Found, m.BestID)
			}
			fmt.Printf("  %d. %s (%s)\n", i+1, truncate(m.Question, 100), best)
		}
	}
	return nil
}
