package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"inference_gateway/internal/auth"
	"inference_gateway/internal/models"
	"inference_gateway/internal/storage"
	"inference_gateway/internal/utils"
)

const maxKeyAttempts = 3

var (
	keyUserID    string
	keyUserEmail string
	keyUserName  string
	keyName      string
	keyRateLimit int
	sessionTTL   time.Duration
)

func init() {
	createKeyCmd := &cobra.Command{
		Use:   "create-key",
		Short: "Create an API key for a user, creating the user if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			key, err := issueKey(cmd.Context(), storage.NewUserRepository(db), storage.NewAPIKeyRepository(db), keyRequest{
				UserID:    keyUserID,
				Email:     keyUserEmail,
				UserName:  keyUserName,
				Name:      keyName,
				RateLimit: keyRateLimit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:         %s\n", key.ID)
			fmt.Fprintf(out, "Name:       %s\n", key.Name)
			fmt.Fprintf(out, "User:       %s\n", key.UserID)
			fmt.Fprintf(out, "Rate limit: %d\n", key.RateLimit)
			fmt.Fprintf(out, "Key:        %s\n", key.Key)
			return nil
		},
	}
	createKeyCmd.Flags().StringVar(&keyUserID, "user-id", "", "Owner user id (identity provider subject)")
	createKeyCmd.Flags().StringVar(&keyUserEmail, "email", "", "Owner email, used when the user does not exist yet")
	createKeyCmd.Flags().StringVar(&keyUserName, "user-name", "", "Owner display name")
	createKeyCmd.Flags().StringVar(&keyName, "name", "", "API key name")
	createKeyCmd.Flags().IntVar(&keyRateLimit, "rate-limit", models.DefaultRateLimit, "Advisory requests per minute")
	_ = createKeyCmd.MarkFlagRequired("user-id")
	_ = createKeyCmd.MarkFlagRequired("email")
	_ = createKeyCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(createKeyCmd)

	sessionCmd := &cobra.Command{
		Use:   "session-token",
		Short: "Mint a dashboard session token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(cfg.JWTSecret) < 16 {
				return fmt.Errorf("JWT_SECRET must be at least 16 characters")
			}
			token, err := auth.GenerateSessionJWT(cfg.JWTSecretBytes(), keyUserID, keyUserEmail, keyUserName, sessionTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	sessionCmd.Flags().StringVar(&keyUserID, "user-id", "", "Subject of the token")
	sessionCmd.Flags().StringVar(&keyUserEmail, "email", "", "Email claim")
	sessionCmd.Flags().StringVar(&keyUserName, "user-name", "", "Name claim")
	sessionCmd.Flags().DurationVar(&sessionTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = sessionCmd.MarkFlagRequired("user-id")
	_ = sessionCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(sessionCmd)
}

type userEnsurer interface {
	EnsureUser(ctx context.Context, id, email string, name *string) (*models.User, error)
}

type keyCreator interface {
	Create(ctx context.Context, key *models.APIKey) error
}

type keyRequest struct {
	UserID    string
	Email     string
	UserName  string
	Name      string
	RateLimit int
}

// issueKey upserts the owner and stores a freshly generated active key,
// retrying when the generated key collides with an existing one.
func issueKey(ctx context.Context, users userEnsurer, keys keyCreator, req keyRequest) (*models.APIKey, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.UserID == "" || req.Email == "" {
		return nil, fmt.Errorf("user id and email are required")
	}
	if req.Name == "" {
		return nil, fmt.Errorf("API key name required")
	}
	if req.RateLimit <= 0 {
		req.RateLimit = models.DefaultRateLimit
	}

	if _, err := users.EnsureUser(ctx, req.UserID, req.Email, utils.OptionalString(req.UserName)); err != nil {
		return nil, err
	}

	var err error
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key := &models.APIKey{
			UserID:    req.UserID,
			Key:       auth.GenerateAPIKey(),
			Name:      req.Name,
			IsActive:  true,
			RateLimit: req.RateLimit,
		}
		if err = keys.Create(ctx, key); err == nil {
			return key, nil
		}
		if !errors.Is(err, storage.ErrDuplicateAPIKey) {
			return nil, err
		}
	}
	return nil, err
}
