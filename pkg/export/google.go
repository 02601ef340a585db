package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/option"
)

var (
	// ErrNoCredentials is returned when the OAuth client is not configured.
	ErrNoCredentials = errors.New("export: GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")

	// ErrNotAuthenticated is returned when no usable token is held.
	ErrNotAuthenticated = errors.New("export: not connected to Google")
)

// GoogleConfig configures the Google Docs exporter.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenPath    string // Default ~/.galina/google_token.json

	// Endpoint overrides the Docs API base URL.
	Endpoint string

	Logger *slog.Logger
}

// GoogleDocs exports transcripts as new Google Docs.
type GoogleDocs struct {
	config    *oauth2.Config
	tokenPath string
	endpoint  string
	logger    *slog.Logger

	mu      sync.RWMutex
	token   *oauth2.Token
	service *docs.Service
}

// NewGoogleDocs creates the exporter and loads a saved token if present.
func NewGoogleDocs(cfg GoogleConfig) (*GoogleDocs, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrNoCredentials
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://localhost:8080/api/export/callback"
	}
	if cfg.TokenPath == "" {
		home, _ := os.UserHomeDir()
		cfg.TokenPath = filepath.Join(home, ".galina", "google_token.json")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	g := &GoogleDocs{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{docs.DocumentsScope, docs.DriveFileScope},
			Endpoint:     google.Endpoint,
		},
		tokenPath: cfg.TokenPath,
		endpoint:  cfg.Endpoint,
		logger:    cfg.Logger.With("component", "export.google"),
	}

	if token, err := g.loadToken(); err == nil {
		if err := g.setToken(token); err != nil {
			g.logger.Warn("saved token unusable", "error", err)
		}
	}
	return g, nil
}

// IsAuthenticated reports whether a token is held. An expired token with
// a refresh token still counts.
func (g *GoogleDocs) IsAuthenticated() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token != nil && (g.token.Valid() || g.token.RefreshToken != "")
}

// AuthURL returns the consent page URL.
func (g *GoogleDocs) AuthURL() string {
	return g.config.AuthCodeURL("galina-export", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// HandleCallback exchanges an authorization code and saves the token.
func (g *GoogleDocs) HandleCallback(ctx context.Context, code string) error {
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code for token: %w", err)
	}
	if err := g.setToken(token); err != nil {
		return err
	}
	if err := g.saveToken(token); err != nil {
		g.logger.Warn("failed to save token", "error", err)
	}
	return nil
}

// SetToken installs a token directly, e.g. one minted elsewhere.
func (g *GoogleDocs) SetToken(token *oauth2.Token) error {
	return g.setToken(token)
}

// Disconnect forgets the token and removes the saved copy.
func (g *GoogleDocs) Disconnect() error {
	g.mu.Lock()
	g.token = nil
	g.service = nil
	g.mu.Unlock()

	if err := os.Remove(g.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// Export creates a document holding the formatted transcript and returns
// its URL.
func (g *GoogleDocs) Export(ctx context.Context, t Transcript) (string, error) {
	g.mu.RLock()
	service := g.service
	g.mu.RUnlock()
	if service == nil {
		return "", ErrNotAuthenticated
	}

	created, err := service.Documents.Create(&docs.Document{Title: t.Title()}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}

	_, err = service.Documents.BatchUpdate(created.DocumentId, &docs.BatchUpdateDocumentRequest{
		Requests: []*docs.Request{{
			InsertText: &docs.InsertTextRequest{
				Location: &docs.Location{Index: 1},
				Text:     t.Format(),
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return DocURL(created.DocumentId), fmt.Errorf("created document but failed to add content: %w", err)
	}

	url := DocURL(created.DocumentId)
	g.logger.Info("transcript exported", "call_id", t.CallID, "url", url, "messages", len(t.Messages))
	return url, nil
}

// DocURL returns the edit URL for a document.
func DocURL(docID string) string {
	return fmt.Sprintf("https://docs.google.com/document/d/%s/edit", docID)
}

func (g *GoogleDocs) setToken(token *oauth2.Token) error {
	if token == nil {
		return ErrNotAuthenticated
	}

	ctx := context.Background()
	opts := []option.ClientOption{option.WithHTTPClient(g.config.Client(ctx, token))}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	service, err := docs.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create docs service: %w", err)
	}

	g.mu.Lock()
	g.token = token
	g.service = service
	g.mu.Unlock()
	return nil
}

func (g *GoogleDocs) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(g.tokenPath)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (g *GoogleDocs) saveToken(token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(g.tokenPath), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(g.tokenPath, data, 0o600)
}

// Status is the connection state shown by the web surface.
type Status struct {
	Connected bool   `json:"connected"`
	AuthURL   string `json:"auth_url,omitempty"`
}

// GetStatus returns the connection status.
func (g *GoogleDocs) GetStatus() Status {
	s := Status{Connected: g.IsAuthenticated()}
	if !s.Connected {
		s.AuthURL = g.AuthURL()
	}
	return s
}
