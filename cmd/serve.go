package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/ziadkadry99/chattia/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server for AI agent integration",
	Long:  `Starts a Model Context Protocol (MCP) server on stdio, exposing the ask and search_corpus tools to AI agents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		if _, err := st.corpus.Load(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not load the content pack: %v\n", err)
			fmt.Fprintf(os.Stderr, "search_corpus will fail and ask will escalate every question.\n")
		}

		// Set version from the cmd package variable.
		mcpserver.Version = Version

		fmt.Fprintf(os.Stderr, "chattia MCP server started on stdio (providers=%v)\n", st.chain.Providers())

		srv := mcpserver.NewServer(st.orchestrator(st.inProcess(false)), st.corpus)
		return srv.Serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
