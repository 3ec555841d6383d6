package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codemie-cli/agentwrap/internal/sessionstore"
)

// buildStatusCmd lists persisted sessions under the data root's
// metrics/sessions directory, per the layout spec.md §6 mandates.
func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show correlation and sync status for recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			sessionIDs, err := listSessionIDs(cfg.DataRoot)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(sessionIDs) == 0 {
				fmt.Fprintln(out, "No sessions recorded yet.")
				return nil
			}

			fmt.Fprintln(out, "Sessions:")
			for _, id := range sessionIDs {
				store, err := sessionstore.Open(cfg.DataRoot, id)
				if err != nil {
					fmt.Fprintf(out, "  %s: open failed: %v\n", id, err)
					continue
				}
				session, err := store.Load()
				if err != nil || session == nil {
					fmt.Fprintf(out, "  %s: no session document\n", id)
					continue
				}
				fmt.Fprintf(out, "  %s  agent=%s  status=%s  correlation=%s\n",
					id, session.AgentName, session.Status, session.Correlation.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// listSessionIDs returns the session ids under dataRoot/metrics/sessions,
// sorted by file name.
func listSessionIDs(dataRoot string) ([]string, error) {
	dir := filepath.Join(dataRoot, "metrics", "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
