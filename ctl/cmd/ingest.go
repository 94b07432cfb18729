package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"altavo/chunker"
	"altavo/loader/service"
	"altavo/rag"
	"altavo/types"
)

func ingestDirCMD(open opener) *cobra.Command {
	var (
		userID int64
		dir    string
	)

	var ingest = &cobra.Command{
		Use:   "ingest-dir",
		Short: "Ingest every supported file of a directory for a user",
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
				chunker.New(e.cfg.RAG.DirChunkSize, e.cfg.RAG.DirChunkOverlap),
				e.cfg.UploadDir, e.cfg.MaxUploadBytes)

			results, err := service.IngestDir(cmd.Context(), ingestor, userID, dir)
			if err != nil {
				return err
			}

			var indexed, chunks int
			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "%-8s %-40s chunks=%d %s\n", r.Status, r.Filename, r.Chunks, r.Reason)
				if r.Status == types.DocIndexed {
					indexed++
					chunks += r.Chunks
				}
			}
			fmt.Fprintf(out, "indexed=%d chunks=%d\n", indexed, chunks)
			return nil
		},
	}
	ingest.Flags().Int64Var(&userID, "user", 0, "user id")
	ingest.Flags().StringVar(&dir, "dir", "", "directory with documents")
	_ = ingest.MarkFlagRequired("user")
	_ = ingest.MarkFlagRequired("dir")

	return ingest
}
