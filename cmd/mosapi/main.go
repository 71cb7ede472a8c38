// Command mosapi is an operator CLI for opening and closing MoSAPI
// sessions from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tldwatch/mosapi"
	"github.com/tldwatch/mosapi/internal/config"
	"github.com/tldwatch/mosapi/internal/secrets"
	"github.com/tldwatch/mosapi/internal/session"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mosapi",
		Short: "Manage MoSAPI sessions for a TLD",
		Long: `mosapi opens and closes MoSAPI monitoring sessions.

Credentials, TLS material and the MoSAPI base URL come from the same
environment configuration the mosapid service uses. When REDIS_URL is
set, the session cookie is written to the shared Redis cache so a login
from this CLI is visible to the whole deployment; without Redis the
cookie lives only for the duration of the command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(startCommand())
	rootCmd.AddCommand(stopCommand())

	if err := rootCmd.Execute(); err != nil {
		printErrorChain(err)
		os.Exit(1)
	}
}

func startCommand() *cobra.Command {
	var tld string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Log in to MoSAPI for a TLD",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cleanup, err := buildClient(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := client.Login(cmd.Context(), tld); err != nil {
				return fmt.Errorf("login %s: %w", tld, err)
			}
			fmt.Printf("Logged in to MoSAPI for TLD %s\n", tld)
			return nil
		},
	}
	cmd.Flags().StringVar(&tld, "tld", "", "TLD to log in for (required)")
	_ = cmd.MarkFlagRequired("tld")
	return cmd
}

func stopCommand() *cobra.Command {
	var tld string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Log out of MoSAPI for a TLD",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cleanup, err := buildClient(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := client.Logout(cmd.Context(), tld); err != nil {
				return fmt.Errorf("logout %s: %w", tld, err)
			}
			fmt.Printf("Logged out of MoSAPI for TLD %s\n", tld)
			return nil
		},
	}
	cmd.Flags().StringVar(&tld, "tld", "", "TLD to log out of (required)")
	_ = cmd.MarkFlagRequired("tld")
	return cmd
}

// buildClient assembles a client from the environment, mirroring the
// mosapid wiring minus storage and telemetry. The returned cleanup
// closes the Redis connection when one was opened.
func buildClient(ctx context.Context) (*mosapi.Client, func(), error) {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	cleanup := func() {}
	var cache mosapi.SessionCache
	if cfg.RedisURL != "" {
		redisCache, err := session.New(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("session cache: %w", err)
		}
		cache = redisCache
		cleanup = func() { _ = redisCache.Close() }
	} else {
		cache = mosapi.NewMemoryCache()
	}

	var store secrets.Store
	if cfg.VaultAddr != "" {
		store, err = secrets.NewVaultStore(cfg.VaultAddr, cfg.VaultToken, cfg.VaultMount)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("secrets: %w", err)
		}
	} else {
		store = secrets.NewEnvStore(os.LookupEnv)
	}

	certPEM, err := store.Secret(ctx, secrets.TLSCertSecret(cfg.Environment))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load client certificate: %w", err)
	}
	keyPEM, err := store.Secret(ctx, secrets.TLSKeySecret(cfg.Environment))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load client key: %w", err)
	}
	transport, err := mosapi.NewTransport([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("transport: %w", err)
	}

	client, err := mosapi.NewClient(mosapi.Config{
		BaseURL:     cfg.MosAPIURL,
		EntityType:  cfg.EntityType,
		Credentials: secrets.Credentials{Store: store},
		Cache:       cache,
		Transport:   transport,
		Logger:      logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("client: %w", err)
	}
	return client, cleanup, nil
}

// printErrorChain writes every error in the chain to stderr, outermost
// first, so upstream MoSAPI detail is not lost.
func printErrorChain(err error) {
	for depth := 0; err != nil; depth++ {
		if depth == 0 {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "  caused by: %v\n", err)
		}
		next := errors.Unwrap(err)
		if next == nil || next.Error() == err.Error() {
			break
		}
		err = next
	}
}
