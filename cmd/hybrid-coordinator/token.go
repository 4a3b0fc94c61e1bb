package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MasterofNull/hybrid-coordinator/server/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue a bearer token signed with the configured jwt secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := viper.GetString("jwt-secret")
		if secret == "" {
			return errors.New("jwt-secret is not set")
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := auth.NewAuthenticator(secret).GenerateToken(args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Duration("ttl", 30*24*time.Hour, "token lifetime; 0 never expires")
}
