package handler

import (
	"log/slog"

	"github.com/veridocs/mirror-be/internal/cryptox"
	"github.com/veridocs/mirror-be/internal/domain"
	"github.com/veridocs/mirror-be/internal/oauthstate"
	"github.com/veridocs/mirror-be/internal/provider"
	"github.com/veridocs/mirror-be/shared/postgresql"
	"github.com/veridocs/mirror-be/shared/rabbitmq"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	DBClient     *postgresql.Client
	RabbitClient *rabbitmq.Client // optional worker wake-up channel
	Jobs         domain.JobRepository
	Connections  domain.ConnectionRepository
	Registry     *provider.Registry
	StateSigner  *oauthstate.Signer
	Cipher       *cryptox.Cipher
	FrontendURL  string // browser destination after a successful OAuth callback
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger       *slog.Logger
	jobs         domain.JobRepository
	registry     *provider.Registry
	rabbitClient *rabbitmq.Client
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:       deps.Logger,
		jobs:         deps.Jobs,
		registry:     deps.Registry,
		rabbitClient: deps.RabbitClient,
	}
}

// StorageHandler handles the OAuth connect flow and connection
// management endpoints
type StorageHandler struct {
	logger      *slog.Logger
	connections domain.ConnectionRepository
	registry    *provider.Registry
	stateSigner *oauthstate.Signer
	cipher      *cryptox.Cipher
	frontendURL string
}

// NewStorageHandler creates a new StorageHandler instance
func NewStorageHandler(deps *Dependencies) *StorageHandler {
	return &StorageHandler{
		logger:      deps.Logger,
		connections: deps.Connections,
		registry:    deps.Registry,
		stateSigner: deps.StateSigner,
		cipher:      deps.Cipher,
		frontendURL: deps.FrontendURL,
	}
}
