// Command cubestorectl is the operator-facing diagnostic CLI: it opens a
// cubestore data directory read-mostly and runs checks against it without
// standing up the full server (scheduler, cache manager, pgwire listener).
// Grounded the same way as cmd/cubestored on the cobra command-tree shape
// the example pack's CLIs use (steveyegge-beads/cmd/bd).
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/storagecore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dataDir string

	root := &cobra.Command{
		Use:   "cubestorectl",
		Short: "operator diagnostics for a cubestore data directory",
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "./cubestore-data", "directory holding the metastore db and partition files")
	root.AddCommand(newVerifyIndexCmd(&dataDir))
	return root
}

func newVerifyIndexCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-index <index-id>",
		Short: "check one index's active partitions for key-range gaps/overlaps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			indexID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid index id %q: %w", args[0], err)
			}
			return verifyIndex(cmd.Context(), *dataDir, indexID)
		},
	}
}

func verifyIndex(ctx context.Context, dataDir string, indexID int64) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	kv, err := metastore.OpenBboltKV(dataDir + "/metastore.db")
	if err != nil {
		return fmt.Errorf("open metastore at %s: %w", dataDir, err)
	}
	meta := metastore.Open(kv)
	defer meta.Close()

	files, err := storagecore.NewDirFileStore(dataDir + "/files")
	if err != nil {
		return fmt.Errorf("open file store: %w", err)
	}
	store := storagecore.New(meta, files, log)

	if err := store.Verify(ctx, indexID); err != nil {
		return fmt.Errorf("index %d failed verification: %w", indexID, err)
	}
	fmt.Printf("index %d: ok\n", indexID)
	return nil
}
