// Command gen_token prints an operator session cookie value for local API
// testing.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

func main() {
	var email, role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:          "gen_token",
		Short:        "Print a signed operator session cookie",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != "admin" && role != "staff" {
				return fmt.Errorf("role must be admin or staff")
			}
			signingSecret := os.Getenv("APP_SIGNING_SECRET")
			if signingSecret == "" {
				signingSecret = "local-dev-signing-secret"
			}

			now := time.Now()
			claims := jwt.MapClaims{
				"email": email,
				"role":  role,
				"iat":   now.Unix(),
				"exp":   now.Add(ttl).Unix(),
			}
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
			signedToken, err := token.SignedString([]byte(signingSecret))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "blotterdesk_operator_session=%s\n", signedToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "admin@example.com", "operator email")
	cmd.Flags().StringVar(&role, "role", "admin", "operator role (admin or staff)")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
