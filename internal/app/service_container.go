package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"solver-backend/internal/clients"
	"solver-backend/internal/config"
	"solver-backend/internal/events"
	"solver-backend/internal/handlers"
	"solver-backend/internal/interfaces"
	"solver-backend/internal/repository"
	"solver-backend/internal/router"
	"solver-backend/internal/services"
)

// ServiceContainer wires repositories, clients, services and handlers.
// Construction happens once; Start/Stop control the background workers.
type ServiceContainer struct {
	cfg *config.Config
	db  *gorm.DB

	// repositories
	IntentRepo   repository.IntentRepository
	MatchRepo    repository.MatchRepository
	TaskRepo     repository.SettlementTaskRepository
	ReplayLedger repository.ReplayLedger

	// clients
	NATSClient  *clients.NATSClient
	RedisClient *redis.Client
	Ledger      *clients.EthLedgerClient
	Verifier    *clients.HTTPVerifierClient

	// services
	Publisher  *events.Publisher
	Admission  *services.AdmissionService
	Matching   *services.MatchingService
	Settlement *services.SettlementService
	Sweeper    *services.ExpirySweeper
	Push       *services.PushService

	// handlers
	Handlers *router.Handlers
}

var (
	container     *ServiceContainer
	containerOnce sync.Once
)

// NewServiceContainer builds the container exactly once
func NewServiceContainer(cfg *config.Config, db *gorm.DB) (*ServiceContainer, error) {
	var initErr error
	containerOnce.Do(func() {
		c := &ServiceContainer{cfg: cfg, db: db}
		if err := c.initRepositories(); err != nil {
			initErr = err
			return
		}
		if err := c.initClients(); err != nil {
			initErr = err
			return
		}
		c.initServices()
		c.initHandlers()
		container = c
	})
	if initErr != nil {
		return nil, initErr
	}
	return container, nil
}

func (c *ServiceContainer) initRepositories() error {
	c.IntentRepo = repository.NewIntentRepository(c.db)
	c.MatchRepo = repository.NewMatchRepository(c.db)
	c.TaskRepo = repository.NewSettlementTaskRepository(c.db)

	if c.cfg.Redis.Enabled {
		c.RedisClient = redis.NewClient(&redis.Options{
			Addr:        c.cfg.GetRedisAddress(),
			Password:    c.cfg.Redis.Password,
			DB:          c.cfg.Redis.DB,
			DialTimeout: time.Duration(c.cfg.Redis.Timeout) * time.Second,
		})
		c.ReplayLedger = repository.NewRedisReplayLedger(c.RedisClient)
		log.Info("Using Redis replay ledger")
	} else {
		c.ReplayLedger = repository.NewDBReplayLedger(c.db)
		log.Info("Using database replay ledger")
	}
	return nil
}

func (c *ServiceContainer) initClients() error {
	natsClient, err := clients.NewNATSClient(&c.cfg.NATS)
	if err != nil {
		// Events are best effort; the service still admits and matches.
		log.WithError(err).Warn("NATS unavailable, lifecycle events disabled")
	}
	c.NATSClient = natsClient

	c.Verifier = clients.NewHTTPVerifierClient(&c.cfg.Verifier)
	if c.Verifier == nil {
		log.Warn("No proof verifier configured, preflight verification disabled")
	}

	if c.cfg.Settlement.AutoSettle {
		ledger, err := clients.NewEthLedgerClient(&c.cfg.Ledger)
		if err != nil {
			return fmt.Errorf("failed to initialize ledger client: %w", err)
		}
		c.Ledger = ledger
		log.WithField("solver", ledger.SolverAddress()).Info("Ledger client initialized")
	}
	return nil
}

func (c *ServiceContainer) initServices() {
	c.Publisher = events.NewPublisher(c.NATSClient, c.cfg.NATS.SubjectPrefix)

	c.Push = services.NewPushService()
	c.Publisher.RegisterSink(c.Push)

	var verifier interfaces.VerifierClient
	if c.Verifier != nil {
		verifier = c.Verifier
	}

	c.Admission = services.NewAdmissionService(c.IntentRepo, c.ReplayLedger, verifier, c.Publisher, c.cfg)
	c.Matching = services.NewMatchingService(c.IntentRepo, c.MatchRepo, c.TaskRepo, c.Publisher, c.Admission.MatchTrigger(), c.cfg)
	c.Sweeper = services.NewExpirySweeper(c.IntentRepo, c.ReplayLedger, c.cfg)

	if c.Ledger != nil {
		c.Settlement = services.NewSettlementService(c.IntentRepo, c.MatchRepo, c.TaskRepo, c.Ledger, c.Publisher, c.cfg)
	}
}

func (c *ServiceContainer) initHandlers() {
	c.Handlers = &router.Handlers{
		Auth:      handlers.NewAuthHandler(),
		Intent:    handlers.NewIntentHandler(c.Admission, c.IntentRepo),
		Match:     handlers.NewMatchHandler(c.MatchRepo, c.Settlement),
		Basic:     handlers.NewBasicHandler(c.db, c.NATSClient, c.IntentRepo, c.MatchRepo),
		WebSocket: handlers.NewWebSocketHandler(c.Push),
	}
}

// Start launches the background workers
func (c *ServiceContainer) Start() {
	c.Matching.Start()
	c.Sweeper.Start()
	if c.Settlement != nil {
		c.Settlement.Start()
	}
}

// Stop shuts the workers down in reverse dependency order
func (c *ServiceContainer) Stop() {
	if c.Settlement != nil {
		c.Settlement.Stop()
	}
	c.Sweeper.Stop()
	c.Matching.Stop()
	c.Push.Shutdown()
	c.NATSClient.Close()
	if c.RedisClient != nil {
		c.RedisClient.Close()
	}
}
