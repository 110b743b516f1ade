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

// DriveConfig configures the simple-drive-style driver. APIBase and
// UploadBase default to the public vendor endpoints; tests point them
// at a local server.
type DriveConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	APIBase      string
	UploadBase   string
	Scopes       []string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// DriveDriver talks to a drive-style vendor API: direct media upload
// for small files, resumable sessions with Content-Range chunks and 308
// continuation responses for large ones.
type DriveDriver struct {
	oauth      oauth2.Config
	apiBase    string
	uploadBase string
	tokenURL   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDriveDriver creates the drive-style driver.
func NewDriveDriver(cfg DriveConfig) *DriveDriver {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &DriveDriver{
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
		uploadBase: strings.TrimSuffix(cfg.UploadBase, "/"),
		tokenURL:   cfg.TokenURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (d *DriveDriver) Name() string { return NameDrive }

// AuthCodeURL builds the vendor authorization URL. access_type=offline
// makes the vendor return a refresh token on first consent.
func (d *DriveDriver) AuthCodeURL(state string) string {
	return d.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange swaps an authorization code for tokens.
func (d *DriveDriver) Exchange(ctx context.Context, code string) (*Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)

	tok, err := d.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("drive: code exchange failed: %w", err)
	}

	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// tokenResponse is the vendor token endpoint JSON shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Refresh obtains a new access token from the refresh token.
func (d *DriveDriver) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{
		"client_id":     {d.oauth.ClientID},
		"client_secret": {d.oauth.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("drive: creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive: refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, newUpstreamError(NameDrive, resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("drive: decoding refresh response: %w", err)
	}

	return &Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// driveFileResponse is the vendor file metadata JSON shape.
type driveFileResponse struct {
	ID          string `json:"id"`
	WebViewLink string `json:"webViewLink"`
}

// Upload stores a file. Under the threshold a single media upload is
// used; otherwise a resumable session is opened and the buffer is sent
// in fixed-size chunks.
func (d *DriveDriver) Upload(
	ctx context.Context, accessToken string, data []byte, filename, mimeType string,
) (*RemoteFile, error) {
	if int64(len(data)) < DirectUploadMaxSize {
		return d.uploadDirect(ctx, accessToken, data, filename, mimeType)
	}
	return d.uploadResumable(ctx, accessToken, data, filename, mimeType)
}

func (d *DriveDriver) uploadDirect(
	ctx context.Context, accessToken string, data []byte, filename, mimeType string,
) (*RemoteFile, error) {
	d.logger.Debug("drive direct upload",
		slog.String("filename", filename),
		slog.Int("size", len(data)),
	)

	uploadURL := fmt.Sprintf("%s/files?uploadType=media&name=%s",
		d.uploadBase, url.QueryEscape(filename))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("drive: creating upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", mimeType)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive: upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, newUpstreamError(NameDrive, resp.StatusCode, body)
	}

	var fr driveFileResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("drive: decoding upload response: %w", err)
	}

	return &RemoteFile{ID: fr.ID, WebURL: fr.WebViewLink}, nil
}

func (d *DriveDriver) uploadResumable(
	ctx context.Context, accessToken string, data []byte, filename, mimeType string,
) (*RemoteFile, error) {
	total := int64(len(data))

	d.logger.Debug("drive resumable upload",
		slog.String("filename", filename),
		slog.Int64("size", total),
	)

	sessionURL, err := d.openSession(ctx, accessToken, filename, mimeType, total)
	if err != nil {
		return nil, err
	}

	for offset := int64(0); offset < total; offset += UploadChunkSize {
		end := offset + UploadChunkSize
		if end > total {
			end = total
		}

		file, err := d.sendChunk(ctx, sessionURL, data[offset:end], offset, total)
		if err != nil {
			return nil, err
		}
		if file != nil {
			return file, nil
		}
	}

	// The vendor never acknowledged completion even though every byte
	// was sent.
	return nil, fmt.Errorf("drive: upload session did not complete after %d bytes", total)
}

// openSession starts a resumable upload and returns the session URL
// from the Location header.
func (d *DriveDriver) openSession(
	ctx context.Context, accessToken, filename, mimeType string, total int64,
) (string, error) {
	meta, err := json.Marshal(map[string]string{"name": filename, "mimeType": mimeType})
	if err != nil {
		return "", fmt.Errorf("drive: marshaling session metadata: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.uploadBase+"/files?uploadType=resumable", bytes.NewReader(meta))
	if err != nil {
		return "", fmt.Errorf("drive: creating session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Upload-Content-Type", mimeType)
	req.Header.Set("X-Upload-Content-Length", fmt.Sprintf("%d", total))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("drive: session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", newUpstreamError(NameDrive, resp.StatusCode, body)
	}

	sessionURL := resp.Header.Get("Location")
	if sessionURL == "" {
		return "", fmt.Errorf("drive: session response missing Location header")
	}

	return sessionURL, nil
}

// sendChunk uploads one byte range. Returns the final file metadata on
// completion (200/201), nil for an intermediate 308.
func (d *DriveDriver) sendChunk(
	ctx context.Context, sessionURL string, chunk []byte, offset, total int64,
) (*RemoteFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, bytes.NewReader(chunk))
	if err != nil {
		return nil, fmt.Errorf("drive: creating chunk request: %w", err)
	}
	req.Header.Set("Content-Range",
		fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(chunk))-1, total))
	req.ContentLength = int64(len(chunk))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive: chunk request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPermanentRedirect: // 308 Resume Incomplete
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain to reuse connection
		return nil, nil

	case http.StatusOK, http.StatusCreated:
		var fr driveFileResponse
		if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
			return nil, fmt.Errorf("drive: decoding final chunk response: %w", err)
		}
		return &RemoteFile{ID: fr.ID, WebURL: fr.WebViewLink}, nil

	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, newUpstreamError(NameDrive, resp.StatusCode, body)
	}
}

// AccountID fetches the vendor-side account identifier.
func (d *DriveDriver) AccountID(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.apiBase+"/about?fields=user", http.NoBody)
	if err != nil {
		return "", fmt.Errorf("drive: creating about request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("drive: about request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", newUpstreamError(NameDrive, resp.StatusCode, body)
	}

	var about struct {
		User struct {
			PermissionID string `json:"permissionId"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&about); err != nil {
		return "", fmt.Errorf("drive: decoding about response: %w", err)
	}

	return about.User.PermissionID, nil
}
