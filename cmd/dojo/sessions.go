package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/heavenideas/dojo-server-go/internal/persistence"
	"github.com/heavenideas/dojo-server-go/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved sessions",
}

var sessionsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List saved sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := openDocuments(cmd)
		if err != nil {
			return err
		}
		defer docs.Close()

		entries, err := docs.List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, "No saved sessions found.")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(out, "- %s  %s  %d bytes\n", e.Key, e.UpdatedAt.Local().Format(time.DateTime), e.Size)
		}
		return nil
	},
}

var sessionsRmCmd = &cobra.Command{
	Use:   "rm <key>...",
	Short: "Remove one or more saved sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := openDocuments(cmd)
		if err != nil {
			return err
		}
		defer docs.Close()

		for _, key := range args {
			if err := docs.Delete(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed session '%s'\n", key)
		}
		return nil
	},
}

var treeCmd = &cobra.Command{
	Use:   "tree <key>",
	Short: "Print the timeline of a saved session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := openDocuments(cmd)
		if err != nil {
			return err
		}
		defer docs.Close()

		body, err := docs.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		sess := session.New(nil, nil)
		if err := sess.Import(body); err != nil {
			return err
		}
		printTree(cmd.OutOrStdout(), sess.Timeline(), sess.State().ActiveBookmarkID)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <key> <file>",
	Short: "Write a saved session to a JSON file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := openDocuments(cmd)
		if err != nil {
			return err
		}
		defer docs.Close()

		body, err := docs.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if _, err := session.ParseDocument(body); err != nil {
			return err
		}
		if err := persistence.WriteFile(args[1], body); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported '%s' to %s\n", args[0], args[1])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file> [key]",
	Short: "Store a session JSON file under key (defaults to the file name)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := persistence.ReadFile(args[0])
		if err != nil {
			return err
		}
		doc, err := session.ParseDocument(body)
		if err != nil {
			return err
		}

		key := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		if len(args) == 2 {
			key = args[1]
		}

		docs, err := openDocuments(cmd)
		if err != nil {
			return err
		}
		defer docs.Close()

		if err := docs.Save(cmd.Context(), key, body); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %s as '%s' (%d bookmarks)\n", args[0], key, len(doc.Bookmarks))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsLsCmd)
	sessionsCmd.AddCommand(sessionsRmCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
