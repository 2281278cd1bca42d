// Command palskill runs the skill registry server and talks to it.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "palskill",
		Short:         "Skill registry for a language-model-driven game agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("server", envOr("PALSKILL_SERVER", "http://localhost:3210"), "palskill server URL")

	root.AddCommand(
		newServeCmd(),
		newSkillsCmd(),
		newRetrieveCmd(),
		newParseCmd(),
		newExecuteCmd(),
		newShellCmd(),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
