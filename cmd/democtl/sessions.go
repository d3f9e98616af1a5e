package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var sessionsJSON bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions from the state file",
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "print the raw state document as JSON")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}

	doc, err := st.Load()
	if err != nil {
		return err
	}

	if sessionsJSON {
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(doc.UserSessions) == 0 {
		fmt.Println("No sessions")
		return nil
	}

	keys := make([]string, 0, len(doc.UserSessions))
	for key := range doc.UserSessions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTATUS\tDATABASE\tOFFSET\tPIDS\tEXPIRES")
	for _, key := range keys {
		sess := doc.UserSessions[key]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			key,
			sess.Status,
			stringOrDash(sess.DB),
			offsetText(sess.LoadgenPortOffset),
			pidsText(sess.LoadgenPids),
			expiryText(sess.ExpiresAt),
		)
	}
	return w.Flush()
}

func stringOrDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func offsetText(offset *int) string {
	if offset == nil {
		return "-"
	}
	return strconv.Itoa(*offset)
}

func pidsText(pids []int) string {
	if len(pids) == 0 {
		return "-"
	}
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = strconv.Itoa(pid)
	}
	return strings.Join(parts, ",")
}

func expiryText(expiresAt *float64) string {
	if expiresAt == nil {
		return "-"
	}
	remaining := time.Until(time.Unix(int64(*expiresAt), 0))
	if remaining <= 0 {
		return "expired"
	}
	return "in " + remaining.Truncate(time.Second).String()
}
