package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// driveServer fakes the drive-style vendor API and records which upload
// path was taken.
type driveServer struct {
	*httptest.Server
	directCalls  int
	sessionCalls int
	chunkRanges  []string
	received     *bytes.Buffer
}

func newDriveServer(t *testing.T) *driveServer {
	t.Helper()

	ds := &driveServer{received: &bytes.Buffer{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/upload/files", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("uploadType") {
		case "media":
			ds.directCalls++
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			ds.received.Write(body)
			json.NewEncoder(w).Encode(map[string]string{
				"id":          "file-direct",
				"webViewLink": "https://vendor.example/view/file-direct",
			})

		case "resumable":
			ds.sessionCalls++
			w.Header().Set("Location", ds.URL+"/upload/session/abc")
			w.WriteHeader(http.StatusOK)

		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/upload/session/abc", func(w http.ResponseWriter, r *http.Request) {
		cr := r.Header.Get("Content-Range")
		ds.chunkRanges = append(ds.chunkRanges, cr)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		ds.received.Write(body)

		var start, end, total int64
		_, err = fmt.Sscanf(cr, "bytes %d-%d/%d", &start, &end, &total)
		require.NoError(t, err)

		if end+1 == total {
			json.NewEncoder(w).Encode(map[string]string{
				"id":          "file-chunked",
				"webViewLink": "https://vendor.example/view/file-chunked",
			})
			return
		}
		w.WriteHeader(http.StatusPermanentRedirect)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"user": map[string]string{"permissionId": "acct-42"},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("refresh_token") != "good-refresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "new-access",
			"expires_in":   3600,
		})
	})

	ds.Server = httptest.NewServer(mux)
	t.Cleanup(ds.Close)

	return ds
}

func newTestDriveDriver(ds *driveServer) *DriveDriver {
	return NewDriveDriver(DriveConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://api.example/storage/callback/drive",
		AuthURL:      ds.URL + "/auth",
		TokenURL:     ds.URL + "/token",
		APIBase:      ds.URL,
		UploadBase:   ds.URL + "/upload",
		Scopes:       []string{"drive.file"},
	})
}

func TestDriveDriver_Upload_DirectUnderThreshold(t *testing.T) {
	ds := newDriveServer(t)
	d := newTestDriveDriver(ds)

	data := bytes.Repeat([]byte("a"), 1<<20) // 1 MiB

	file, err := d.Upload(context.Background(), "token", data, "report.pdf", "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, "file-direct", file.ID)
	assert.Equal(t, "https://vendor.example/view/file-direct", file.WebURL)
	assert.Equal(t, 1, ds.directCalls)
	assert.Equal(t, 0, ds.sessionCalls)
	assert.Equal(t, len(data), ds.received.Len())
}

func TestDriveDriver_Upload_ChunkedAtThreshold(t *testing.T) {
	ds := newDriveServer(t)
	d := newTestDriveDriver(ds)

	data := bytes.Repeat([]byte("b"), 10<<20) // 10 MiB

	file, err := d.Upload(context.Background(), "token", data, "big.pdf", "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, "file-chunked", file.ID)
	assert.Equal(t, 0, ds.directCalls)
	assert.Equal(t, 1, ds.sessionCalls)
	assert.Equal(t, len(data), ds.received.Len())

	// 10 MiB / 3.2 MB chunks => 4 ranges, contiguous from zero
	require.Len(t, ds.chunkRanges, 4)
	assert.Equal(t, fmt.Sprintf("bytes 0-%d/%d", UploadChunkSize-1, len(data)), ds.chunkRanges[0])
	assert.Equal(t,
		fmt.Sprintf("bytes %d-%d/%d", 3*UploadChunkSize, len(data)-1, len(data)),
		ds.chunkRanges[3])
}

func TestDriveDriver_Refresh(t *testing.T) {
	ds := newDriveServer(t)
	d := newTestDriveDriver(ds)

	tok, err := d.Refresh(context.Background(), "good-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
	assert.False(t, tok.ExpiresAt.IsZero())
}

func TestDriveDriver_Refresh_Unauthorized(t *testing.T) {
	ds := newDriveServer(t)
	d := newTestDriveDriver(ds)

	_, err := d.Refresh(context.Background(), "bad-refresh")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusUnauthorized, ue.StatusCode)
}

func TestDriveDriver_AccountID(t *testing.T) {
	ds := newDriveServer(t)
	d := newTestDriveDriver(ds)

	id, err := d.AccountID(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, "acct-42", id)
}

func TestDriveDriver_AuthCodeURL(t *testing.T) {
	ds := newDriveServer(t)
	d := newTestDriveDriver(ds)

	u := d.AuthCodeURL("signed-state")
	assert.Contains(t, u, "state=signed-state")
	assert.Contains(t, u, "client_id=client-id")
	assert.Contains(t, u, "access_type=offline")
}
