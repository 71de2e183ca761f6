package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v73/github"
	"golang.org/x/oauth2"

	"github.com/sevigo/ci-script/internal/config"
)

// ErrNoCredentials is returned when neither an App nor a token is configured.
var ErrNoCredentials = errors.New("no GitHub credentials configured")

// ClientFactory hands out authenticated clients together with the raw token,
// which git needs for clone and push.
type ClientFactory interface {
	ForInstallation(ctx context.Context, installationID int64) (Client, string, error)
	// ForRepository finds the App installation covering owner/repo.
	ForRepository(ctx context.Context, owner, repo string) (Client, string, error)
}

type clientFactory struct {
	cfg    *config.GitHubConfig
	logger *slog.Logger
}

// NewClientFactory authenticates as the configured GitHub App, falling back
// to the personal access token when no App id is set.
func NewClientFactory(cfg *config.GitHubConfig, logger *slog.Logger) ClientFactory {
	return &clientFactory{cfg: cfg, logger: logger}
}

func (f *clientFactory) ForInstallation(ctx context.Context, installationID int64) (Client, string, error) {
	if f.cfg.AppID == 0 || installationID == 0 {
		return f.patClient(ctx)
	}
	return CreateInstallationClient(ctx, f.cfg, installationID, f.logger)
}

func (f *clientFactory) ForRepository(ctx context.Context, owner, repo string) (Client, string, error) {
	if f.cfg.AppID == 0 {
		return f.patClient(ctx)
	}
	appClient, err := newAppClient(f.cfg)
	if err != nil {
		return nil, "", err
	}
	inst, _, err := appClient.Apps.FindRepositoryInstallation(ctx, owner, repo)
	if err != nil {
		return nil, "", fmt.Errorf("failed to find installation for %s/%s: %w", owner, repo, err)
	}
	return CreateInstallationClient(ctx, f.cfg, inst.GetID(), f.logger)
}

func (f *clientFactory) patClient(ctx context.Context) (Client, string, error) {
	if f.cfg.Token == "" {
		return nil, "", ErrNoCredentials
	}
	return NewPATClient(ctx, f.cfg.Token, f.logger), f.cfg.Token, nil
}

func newAppClient(cfg *config.GitHubConfig) (*github.Client, error) {
	privateKey, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.PrivateKeyPath, err)
	}

	// The apps transport signs JWTs for the App API (e.g. to get installation tokens).
	appTransport, err := ghinstallation.NewAppsTransport(http.DefaultTransport, cfg.AppID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub App transport: %w", err)
	}
	return github.NewClient(&http.Client{Transport: appTransport}), nil
}

// CreateInstallationClient creates a GitHub client that is authenticated as a specific application installation.
// It returns the client, the raw token string, and an error.
func CreateInstallationClient(ctx context.Context, cfg *config.GitHubConfig, installationID int64, logger *slog.Logger) (Client, string, error) {
	logger.Info("creating GitHub installation client", "installation_id", installationID)

	appClient, err := newAppClient(cfg)
	if err != nil {
		return nil, "", err
	}

	token, _, err := appClient.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create installation token for installation ID %d: %w", installationID, err)
	}
	if token.GetToken() == "" {
		return nil, "", fmt.Errorf("received an empty installation token")
	}
	logger.Debug("created installation token", "installation_id", installationID, "expires_at", token.GetExpiresAt())

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.GetToken()})
	tc := oauth2.NewClient(ctx, ts)

	return NewGitHubClient(github.NewClient(tc), logger), token.GetToken(), nil
}
