package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mronstro/rondb-tools/internal/models"
)

var expireCmd = &cobra.Command{
	Use:   "expire <session>",
	Short: "Mark a session expired in the state file",
	Long: `Set the session's expiry to one second in the past.

The coordinator caches state in memory, so a running server picks the
edit up when it next loads the file at startup; its first maintenance
sweep then tears the session down.`,
	Args: cobra.ExactArgs(1),
	RunE: runExpire,
}

func init() {
	rootCmd.AddCommand(expireCmd)
}

func runExpire(cmd *cobra.Command, args []string) error {
	token := args[0]

	st, err := openStore()
	if err != nil {
		return err
	}

	expired := float64(time.Now().Unix() - 1)
	found := false
	_, err = st.Update(func(doc models.Document) models.Document {
		sess, ok := doc.UserSessions[token]
		if !ok {
			return doc
		}
		found = true
		sess.ExpiresAt = &expired
		return doc
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no session %q in %s", token, st.Path())
	}

	fmt.Printf("Session %s marked expired\n", token)
	return nil
}
