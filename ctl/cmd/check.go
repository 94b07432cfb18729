package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"altavo/rag"
	"altavo/types"
)

func checkCMD(open opener) *cobra.Command {
	var (
		userID int64
		query  string
	)

	var check = &cobra.Command{
		Use:   "check",
		Short: "Show the chunk count of a user's collection and run a sample search",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user must be positive")
			}
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.store.Close()

			out := cmd.OutOrStdout()
			collection := types.CollectionName(userID)

			n, err := e.store.CountChunks(cmd.Context(), collection)
			if errors.Is(err, types.ErrCollectionNotFound) {
				fmt.Fprintf(out, "collection %s does not exist\n", collection)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "collection %s: %d chunks\n", collection, n)

			if strings.TrimSpace(query) == "" {
				return nil
			}

			gate := rag.NewGate(e.embedder, e.store, e.cfg.RAG.TopK, e.cfg.RAG.DistanceThreshold)
			decision, err := gate.Decide(cmd.Context(), userID, query)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "mode: %s\n", decision.Mode)
			for _, r := range decision.Results {
				fmt.Fprintf(out, "%.4f  %s #%d  %s\n", r.Distance, r.DocID, r.Position, preview(r.Content, 80))
			}
			return nil
		},
	}
	check.Flags().Int64Var(&userID, "user", 0, "user id")
	check.Flags().StringVarP(&query, "query", "q", "", "sample question to search for")
	_ = check.MarkFlagRequired("user")

	return check
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
