package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "testtheweb",
	Short: "Record browser interactions and replay them as test cases",
	Long: `testtheweb records what a person does in a browser, stores it as an ordered
list of steps, and replays those steps later in a fresh headless browser,
reporting a result per step.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./testtheweb.yaml when present)")
}
