package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// GraphConfig configures the graph-style driver.
type GraphConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	APIBase      string
	Scopes       []string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// GraphDriver talks to a graph-style vendor API: a single content PUT
// for small files, createUploadSession plus Content-Range chunks with
// 202 continuation responses for large ones.
type GraphDriver struct {
	oauth      oauth2.Config
	apiBase    string
	tokenURL   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGraphDriver creates the graph-style driver.
func NewGraphDriver(cfg GraphConfig) *GraphDriver {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &GraphDriver{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		apiBase:    strings.TrimSuffix(cfg.APIBase, "/"),
		tokenURL:   cfg.TokenURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (g *GraphDriver) Name() string { return NameGraph }

// AuthCodeURL builds the vendor authorization URL.
func (g *GraphDriver) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state)
}

// Exchange swaps an authorization code for tokens.
func (g *GraphDriver) Exchange(ctx context.Context, code string) (*Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)

	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("graph: code exchange failed: %w", err)
	}

	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// Refresh obtains a new access token from the refresh token. Graph-style
// vendors rotate the refresh token on every refresh.
func (g *GraphDriver) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{
		"client_id":     {g.oauth.ClientID},
		"client_secret": {g.oauth.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
		"scope":         {strings.Join(g.oauth.Scopes, " ")},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("graph: creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph: refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, newUpstreamError(NameGraph, resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("graph: decoding refresh response: %w", err)
	}

	return &Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// driveItemResponse is the vendor item metadata JSON shape.
type driveItemResponse struct {
	ID              string `json:"id"`
	WebURL          string `json:"webUrl"`
	ParentReference struct {
		DriveID string `json:"driveId"`
	} `json:"parentReference"`
}

func (ir *driveItemResponse) toRemoteFile() *RemoteFile {
	return &RemoteFile{
		ID:      ir.ID,
		WebURL:  ir.WebURL,
		DriveID: ir.ParentReference.DriveID,
	}
}

// Upload stores a file. Under the threshold a single content PUT is
// used; otherwise an upload session is created and the buffer is sent
// in fixed-size chunks.
func (g *GraphDriver) Upload(
	ctx context.Context, accessToken string, data []byte, filename, mimeType string,
) (*RemoteFile, error) {
	if int64(len(data)) < DirectUploadMaxSize {
		return g.uploadDirect(ctx, accessToken, data, filename, mimeType)
	}
	return g.uploadSession(ctx, accessToken, data, filename)
}

func (g *GraphDriver) uploadDirect(
	ctx context.Context, accessToken string, data []byte, filename, mimeType string,
) (*RemoteFile, error) {
	g.logger.Debug("graph direct upload",
		slog.String("filename", filename),
		slog.Int("size", len(data)),
	)

	path := fmt.Sprintf("%s/me/drive/root:/%s:/content", g.apiBase, url.PathEscape(filename))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("graph: creating upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", mimeType)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph: upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, newUpstreamError(NameGraph, resp.StatusCode, body)
	}

	var ir driveItemResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return nil, fmt.Errorf("graph: decoding upload response: %w", err)
	}

	return ir.toRemoteFile(), nil
}

func (g *GraphDriver) uploadSession(
	ctx context.Context, accessToken string, data []byte, filename string,
) (*RemoteFile, error) {
	total := int64(len(data))

	g.logger.Debug("graph session upload",
		slog.String("filename", filename),
		slog.Int64("size", total),
	)

	sessionURL, err := g.createSession(ctx, accessToken, filename)
	if err != nil {
		return nil, err
	}

	for offset := int64(0); offset < total; offset += UploadChunkSize {
		end := offset + UploadChunkSize
		if end > total {
			end = total
		}

		item, err := g.sendChunk(ctx, sessionURL, data[offset:end], offset, total)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
	}

	return nil, fmt.Errorf("graph: upload session did not complete after %d bytes", total)
}

// createSession opens an upload session and returns its
// pre-authenticated upload URL.
func (g *GraphDriver) createSession(ctx context.Context, accessToken, filename string) (string, error) {
	path := fmt.Sprintf("%s/me/drive/root:/%s:/createUploadSession",
		g.apiBase, url.PathEscape(filename))

	body, err := json.Marshal(map[string]map[string]string{
		"item": {"@microsoft.graph.conflictBehavior": "replace"},
	})
	if err != nil {
		return "", fmt.Errorf("graph: marshaling session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("graph: creating session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("graph: session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return "", newUpstreamError(NameGraph, resp.StatusCode, respBody)
	}

	var sr struct {
		UploadURL string `json:"uploadUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("graph: decoding session response: %w", err)
	}
	if sr.UploadURL == "" {
		return "", fmt.Errorf("graph: session response missing uploadUrl")
	}

	return sr.UploadURL, nil
}

// sendChunk uploads one byte range. The session URL is
// pre-authenticated, so no Authorization header is sent. Returns the
// final item on completion (200/201), nil for an intermediate 202.
func (g *GraphDriver) sendChunk(
	ctx context.Context, sessionURL string, chunk []byte, offset, total int64,
) (*RemoteFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, bytes.NewReader(chunk))
	if err != nil {
		return nil, fmt.Errorf("graph: creating chunk request: %w", err)
	}
	req.Header.Set("Content-Range",
		fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(chunk))-1, total))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(chunk))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph: chunk request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain to reuse connection
		return nil, nil

	case http.StatusOK, http.StatusCreated:
		var ir driveItemResponse
		if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
			return nil, fmt.Errorf("graph: decoding final chunk response: %w", err)
		}
		return ir.toRemoteFile(), nil

	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, newUpstreamError(NameGraph, resp.StatusCode, body)
	}
}

// AccountID fetches the vendor-side account identifier.
func (g *GraphDriver) AccountID(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+"/me", http.NoBody)
	if err != nil {
		return "", fmt.Errorf("graph: creating me request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("graph: me request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", newUpstreamError(NameGraph, resp.StatusCode, body)
	}

	var me struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return "", fmt.Errorf("graph: decoding me response: %w", err)
	}

	return me.ID, nil
}
