// ABOUTME: Client-side commands that talk to a running gateway or mint tokens
// ABOUTME: health and models call the HTTP API, token signs a JWT with the configured secret

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/querynox/internal/auth"
	"github.com/2389/querynox/internal/config"
)

const defaultTokenTTL = 30 * 24 * time.Hour

// get performs an authenticated GET against the gateway named in configPath.
func get(ctx context.Context, configPath, path string) (*http.Response, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if token := os.Getenv("QUERYNOX_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return http.DefaultClient.Do(req)
}

func runHealth(ctx context.Context, configPath string) error {
	resp, err := get(ctx, configPath, "/health/ready")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Printf("healthy: %s\n", body)
	return nil
}

func runModels(ctx context.Context, configPath string) error {
	resp, err := get(ctx, configPath, "/api/models")
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("listing models: status %d: %s", resp.StatusCode, body)
	}

	var list struct {
		Models []struct {
			Name        string `json:"modelName"`
			Category    string `json:"modelCategory"`
			Description string `json:"description"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCATEGORY\tDESCRIPTION")
	for _, m := range list.Models {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, m.Category, m.Description)
	}
	return w.Flush()
}

func newTokenCmd(configPath *string) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a bearer token whose subject becomes the conversation owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, expiresAt, err := mintToken(*configPath, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			color.New(color.FgHiBlack).Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format("Jan 02, 2006 15:04 MST"))
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "Token lifetime")
	return cmd
}

func mintToken(configPath, subject string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("--ttl must be positive")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return "", time.Time{}, fmt.Errorf("auth.jwt_secret not configured in %s", configPath)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("creating JWT verifier: %w", err)
	}

	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generating token: %w", err)
	}
	return token, time.Now().Add(ttl).UTC(), nil
}
