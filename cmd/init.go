package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/chattia/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize chattia configuration with an interactive wizard",
	Long:  `Runs an interactive wizard that picks the content pack, the provider chain and the allowed UI origin, and writes a .chattia.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard()
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
