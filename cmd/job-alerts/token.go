package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/bissquit/job-alerts/internal/auth"
	"github.com/bissquit/job-alerts/internal/pkg/httputil"
	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed bearer token for the admin or internal API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		role := httputil.Role(tokenRole)
		if !slices.Contains([]httputil.Role{httputil.RoleAdmin, httputil.RoleService}, role) {
			return fmt.Errorf("--role must be %s or %s", httputil.RoleAdmin, httputil.RoleService)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		token, err := auth.NewTokens(cfg.JWT.SecretKey, cfg.JWT.Issuer).Issue(tokenSubject, role, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "token subject")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(httputil.RoleAdmin), "admin or service")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
