package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"altavo/app/middleware"
)

func tokenCMD() *cobra.Command {
	var (
		userID int64
		ttl    time.Duration
	)

	var token = &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for a user with JWT_SECRET_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user must be positive")
			}
			secret := os.Getenv("JWT_SECRET_KEY")
			if secret == "" {
				return errors.New("JWT_SECRET_KEY is not set")
			}
			tok, err := middleware.SignToken(userID, []byte(secret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	token.Flags().Int64Var(&userID, "user", 0, "user id")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = token.MarkFlagRequired("user")

	return token
}
