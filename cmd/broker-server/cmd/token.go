package cmd

import (
	"fmt"
	"time"

	"github.com/coregx/broker/cmd/broker-server/internal/api"
	"github.com/coregx/broker/cmd/broker-server/internal/config"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a client",
	RunE:  runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("client-id", "", "client the token authenticates (required)")
	tokenCmd.Flags().Bool("admin", false, "grant topic administration")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	_ = tokenCmd.MarkFlagRequired("client-id")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("no JWT secret configured (set %s_AUTH_JWT_SECRET environment variable)", config.EnvPrefix)
	}

	clientID, _ := cmd.Flags().GetString("client-id")
	isAdmin, _ := cmd.Flags().GetBool("admin")
	ttl := cfg.Auth.TokenTTL
	if cmd.Flags().Changed("ttl") {
		ttl, _ = cmd.Flags().GetDuration("ttl")
	}

	token, expiresAt, err := api.NewJWTAuth(cfg.Auth.JWTSecret, ttl).GenerateToken(clientID, isAdmin)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}
