package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/sheets/v4"
)

const (
	credentialsFile = "credentials.json"
	oobRedirect     = "urn:ietf:wg:oauth:2.0:oob"
	tokenPrefix     = "token-"
	tokenSuffix     = ".json"
)

// scopes covers writing event extended properties and reading tag sheets.
var scopes = []string{calendar.CalendarEventsScope, sheets.SpreadsheetsReadonlyScope}

// NewHTTPClient returns a client authorized as accountName. The token is
// read from tokenDir and written back whenever it is refreshed.
func NewHTTPClient(ctx context.Context, clientID, clientSecret, tokenDir, accountName string) (*http.Client, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	path := filepath.Join(tokenDir, TokenFileName(accountName))
	token, err := tokenFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", accountName, err)
	}

	src := &persistingSource{path: path, base: config.TokenSource(ctx, token), last: token.AccessToken}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, src)), nil
}

// TokenFileName is the file holding accountName's OAuth token.
func TokenFileName(accountName string) string {
	return tokenPrefix + accountName + tokenSuffix
}

// GetOAuthConfigForAuthFlow is the config the auth command exchanges codes with.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig prefers explicit client credentials and falls back to
// credentials.json in the working directory.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  oobRedirect,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, errors.New("no Google client credentials: set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET or provide credentials.json")
	case err != nil:
		return nil, fmt.Errorf("unable to read %s: %w", credentialsFile, err)
	}

	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", credentialsFile, err)
	}
	config.RedirectURL = oobRedirect
	return config, nil
}

// TokenFromWeb exchanges an authorization code pasted by the user.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// SaveToken writes token to path, readable by the owner only.
func SaveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("unable to create token directory: %w", err)
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("unable to encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("unable to write token file: %w", err)
	}
	return nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(data, tok); err != nil {
		return nil, fmt.Errorf("malformed token file %s: %w", path, err)
	}
	return tok, nil
}

// GetTokenAccounts lists the accounts with a token file in dir.
func GetTokenAccounts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var accounts []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rest, ok := strings.CutPrefix(e.Name(), tokenPrefix)
		if !ok {
			continue
		}
		if name, ok := strings.CutSuffix(rest, tokenSuffix); ok && name != "" {
			accounts = append(accounts, name)
		}
	}
	return accounts, nil
}

// persistingSource saves refreshed tokens so a long running serve keeps
// working across restarts.
type persistingSource struct {
	path string
	base oauth2.TokenSource

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := SaveToken(s.path, tok); err != nil {
			return nil, err
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}
