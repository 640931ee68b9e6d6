package main

import (
	"fmt"
	"strings"

	"starmus-recorder/controller/middleware"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newHashTokenCmd() *cobra.Command {
	var userID uint64

	cmd := &cobra.Command{
		Use:   "hash-token [secret]",
		Short: "Hash a bearer token secret for auth.tokens",
		Long:  "Prints the bcrypt hash to put in auth.tokens[].secret_hash. A random secret is generated when none is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := strings.ReplaceAll(uuid.NewString(), "-", "")
			if len(args) == 1 {
				secret = args[0]
			}
			if secret == "" {
				return fmt.Errorf("secret must not be empty")
			}

			hash, err := middleware.HashSecret(secret)
			if err != nil {
				return fmt.Errorf("failed to hash secret: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "secret_hash: %s\n", hash)
			fmt.Fprintf(out, "Authorization: Bearer %d.%s\n", userID, secret)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&userID, "user-id", 1, "User id the token authenticates as")
	return cmd
}
