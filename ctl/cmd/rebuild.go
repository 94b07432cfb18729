package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"altavo/chunker"
	"altavo/rag"
)

func rebuildCMD(open opener) *cobra.Command {
	var userID int64

	var rebuild = &cobra.Command{
		Use:   "rebuild",
		Short: "Drop and rebuild the vector collection of a user from stored documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user must be positive")
			}
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.store.Close()

			ingestor := rag.NewIngestor(e.store, e.store, e.embedder,
				chunker.New(e.cfg.RAG.ChunkSize, e.cfg.RAG.ChunkOverlap),
				e.cfg.UploadDir, e.cfg.MaxUploadBytes)

			report, err := ingestor.Rebuild(cmd.Context(), userID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range report.Results {
				fmt.Fprintf(out, "%-8s %-40s chunks=%d %s\n", r.Status, r.Filename, r.Chunks, r.Reason)
			}
			fmt.Fprintf(out, "documents=%d chunks=%d noop=%t\n", report.Documents, report.Chunks, report.NoOp())
			return nil
		},
	}
	rebuild.Flags().Int64Var(&userID, "user", 0, "user id")
	_ = rebuild.MarkFlagRequired("user")

	return rebuild
}
