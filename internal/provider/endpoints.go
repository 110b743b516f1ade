package provider

// Production vendor endpoints. Tests point the drivers at httptest
// servers instead.
const (
	DriveAuthURL    = "https://accounts.google.com/o/oauth2/auth"
	DriveTokenURL   = "https://oauth2.googleapis.com/token"
	DriveAPIBase    = "https://www.googleapis.com/drive/v3"
	DriveUploadBase = "https://www.googleapis.com/upload/drive/v3"

	GraphAuthURL  = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	GraphTokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	GraphAPIBase  = "https://graph.microsoft.com/v1.0"
)
