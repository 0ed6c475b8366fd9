package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/config"
	"github.com/Tyrowin/relaychat/internal/identity"
)

func newTokenCmd() *cobra.Command {
	var (
		userID   string
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return errors.New("--user-id is required")
			}
			cfg, err := config.Load(logs.GetLoggerFromString("ERROR"))
			if err != nil {
				return err
			}
			issuer, err := identity.NewJWT(cfg.JWTSecret)
			if err != nil {
				return err
			}
			if username == "" {
				username = userID
			}

			token, err := issuer.Issue(chat.Identity{UserID: userID, Username: username}, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "user identifier carried by the token")
	cmd.Flags().StringVar(&username, "username", "", "display name (defaults to the user id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	return cmd
}
