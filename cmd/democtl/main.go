// Package main implements democtl, the operator CLI for the demo
// coordinator's durable state.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mronstro/rondb-tools/internal/config"
	"github.com/mronstro/rondb-tools/internal/store"
)

var durableDir string

var rootCmd = &cobra.Command{
	Use:   "democtl",
	Short: "Inspect and edit the demo coordinator's durable state",
	Long: `democtl reads and edits the state the demo coordinator keeps on disk.

It takes the coordinator's file lock for every access, so it is safe to
run while the server is up. The coordinator caches session state in
memory, so edits only reach a running server when it next loads the
state file, i.e. at startup.

Examples:
  democtl sessions
  democtl expire 0123456789abcdef0123
  democtl log -n 50`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&durableDir, "durable-dir", os.Getenv("DURABLE_DIR"),
		"directory holding the state file and event log")
}

func requireDurableDir() (string, error) {
	if durableDir == "" {
		return "", fmt.Errorf("--durable-dir not set and DURABLE_DIR is empty")
	}
	return durableDir, nil
}

func openStore() (*store.Store, error) {
	dir, err := requireDurableDir()
	if err != nil {
		return nil, err
	}
	return store.New(config.StateFileIn(dir))
}
