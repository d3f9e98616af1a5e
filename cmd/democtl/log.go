package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mronstro/rondb-tools/internal/config"
)

var logLineCount int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Print the tail of the event log",
	RunE:  runLog,
}

func init() {
	logCmd.Flags().IntVarP(&logLineCount, "lines", "n", 20, "number of entries to print")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	dir, err := requireDurableDir()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(config.EventLogIn(dir))
	if err != nil {
		return err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	if logLineCount > 0 && len(lines) > logLineCount {
		lines = lines[len(lines)-logLineCount:]
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}
