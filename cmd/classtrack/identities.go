package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/classtrack/classtrack/pkg/gallery"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "List enrolled identities",
	RunE:  runIdentities,
}

func init() {
	rootCmd.AddCommand(identitiesCmd)
}

func runIdentities(cmd *cobra.Command, args []string) error {
	store, err := gallery.NewStore(cfg.GalleryPath(), cfg.Recognition.EmbeddingDim, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return err
	}
	if err := store.Load(); err != nil {
		return err
	}

	snap := store.Snapshot()
	if len(snap.Identities) == 0 {
		fmt.Println("No identities enrolled.")
		return nil
	}

	fmt.Printf("%-16s %-24s %-10s %s\n", "ID", "NAME", "EMBEDDINGS", "ENROLLED")
	for _, ident := range snap.Identities {
		fmt.Printf("%-16s %-24s %-10d %s\n",
			ident.ID, ident.DisplayName, len(ident.Embeddings),
			ident.EnrolledAt.Format("2006-01-02 15:04"))
	}
	return nil
}
