package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	var (
		dir  string
		keep int
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent snapshot of the database and rotate old ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "backup")
			if err != nil {
				return err
			}
			defer a.Close()

			if dir == "" {
				dir = cfg.Store.BackupDir
			}
			if !cmd.Flags().Changed("keep") {
				keep = cfg.Store.BackupKeep
			}

			rep, err := a.store.Backup(ctx, dir, keep)
			if err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			fmt.Printf("Backup written to %s (%d bytes), %d kept, %d removed\n", rep.Path, rep.SizeBytes, rep.Kept, len(rep.Removed))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "backup directory (default: store.backup_dir)")
	cmd.Flags().IntVar(&keep, "keep", 0, "snapshots to keep (default: store.backup_keep)")
	return cmd
}
