package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/myclaw/internal/sessions"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsDeleteCmd())
	cmd.AddCommand(sessionsPruneCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions with their last update time",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fatal(err)
			}
			index := sessions.NewIndex(cfg.SessionsDir())
			entries, err := index.Load()
			if err != nil {
				fatal(err)
			}
			if len(entries) == 0 {
				fmt.Println("No sessions.")
				return
			}

			keys := make([]string, 0, len(entries))
			for k := range entries {
				keys = append(keys, k)
			}
			sort.Slice(keys, func(i, j int) bool {
				return entries[keys[i]].UpdatedAt > entries[keys[j]].UpdatedAt
			})

			for _, k := range keys {
				e := entries[k]
				updated := time.UnixMilli(e.UpdatedAt).Format("2006-01-02 15:04")
				fmt.Printf("%-19s  %-30s  %8d tok  %s\n", updated, e.Model, e.TotalTokens, k)
			}
		},
	}
}

func sessionsShowCmd() *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "show <session-key>",
		Short: "Print a session's transcript",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fatal(err)
			}
			store := sessions.NewTranscriptStore(cfg.SessionsDir())
			records, err := store.Load(args[0])
			if err != nil {
				fatal(err)
			}
			if last > 0 && len(records) > last {
				records = records[len(records)-last:]
			}
			for _, rec := range records {
				ts := time.UnixMilli(rec.Timestamp).Format("15:04:05")
				fmt.Printf("[%s] %s: %s\n", ts, rec.Role, rec.Content)
			}
		},
	}
	cmd.Flags().IntVar(&last, "last", 0, "show only the last N messages")
	return cmd
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-key>",
		Short: "Delete a session's transcript and index entry",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fatal(err)
			}
			key := args[0]

			store := sessions.NewTranscriptStore(cfg.SessionsDir())
			removed, err := store.Delete(key)
			if err != nil {
				fatal(err)
			}
			index := sessions.NewIndex(cfg.SessionsDir())
			present, err := index.Delete(key)
			if err != nil {
				fatal(err)
			}
			if !removed && !present {
				fmt.Println("Session not found.")
				return
			}
			fmt.Println("Deleted.")
		},
	}
}

func sessionsPruneCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove index entries older than the given age",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fatal(err)
			}
			index := sessions.NewIndex(cfg.SessionsDir())
			n, err := index.Prune(time.Duration(days) * 24 * time.Hour)
			if err != nil {
				fatal(err)
			}
			fmt.Printf("Pruned %d session(s).\n", n)
		},
	}
	cmd.Flags().IntVar(&days, "older-than", 90, "age threshold in days")
	return cmd
}
