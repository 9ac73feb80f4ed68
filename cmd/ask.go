package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/chattia/internal/escalate"
	"github.com/ziadkadry99/chattia/internal/gate"
	"github.com/ziadkadry99/chattia/internal/orchestrator"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask one question through the tiered pipeline",
	Long: `Runs a single turn: the local pack first, then the on-device model when
enabled, then the provider chain. With --endpoint the escalation goes to a
running chattia server instead of calling providers directly.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringP("question", "q", "", "question to ask")
	askCmd.Flags().String("lang", "en", "answer language: en or es")
	askCmd.Flags().String("endpoint", "", "chat endpoint of a chattia server (overrides endpoint in config)")
	askCmd.Flags().String("session", "", "session id (default: a new one)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question, _ := cmd.Flags().GetString("question")
	if question == "" && len(args) == 1 {
		question = args[0]
	}
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("a question is required: chattia ask -q \"...\"")
	}
	lang, _ := cmd.Flags().GetString("lang")
	endpoint, _ := cmd.Flags().GetString("endpoint")
	session, _ := cmd.Flags().GetString("session")
	if session == "" {
		session = uuid.New().String()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	st, err := newStack(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	if endpoint == "" {
		endpoint = cfg.Endpoint
	}
	var esc escalate.Escalator
	if endpoint != "" {
		esc = escalate.NewRemote(endpoint, escalate.RemoteOptions{
			Origin: cfg.Server.AllowedOrigin,
			Window: cfg.HistoryWindow,
			Logger: logger,
		})
	} else {
		esc = st.inProcess(false)
	}
	orch := st.orchestrator(esc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out, err := orch.Run(ctx, orchestrator.Turn{
		SessionID: session,
		Lang:      gate.NormalizeLang(lang),
		Input:     question,
	}, orchestrator.SinkFunc(func(text string) {
		fmt.Print(text)
	}))
	if err != nil {
		var blocked *orchestrator.BlockedError
		if errors.As(err, &blocked) {
			return fmt.Errorf("input blocked (score %d): %s", blocked.Score, strings.Join(blocked.Reasons, ", "))
		}
		return err
	}
	fmt.Println()

	fmt.Fprintf(os.Stderr, "\n[%s", out.Path)
	if out.Provider != "" {
		fmt.Fprintf(os.Stderr, " via %s, %d tokens", out.Provider, out.Tokens)
	}
	fmt.Fprintln(os.Stderr, "]")
	if out.Warning != "" {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", out.Warning)
	}
	return nil
}
