package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"aa-backend/internal/clients"
	"aa-backend/internal/config"
	"aa-backend/internal/db"
	"aa-backend/internal/repository"
	"aa-backend/internal/services"

	"gorm.io/gorm"
)

// ServiceContainer holds every repository, client and service the server
// needs, wired in dependency order.
type ServiceContainer struct {
	// Database
	DB *gorm.DB

	// Repositories
	OtpRepo          repository.OtpRepository
	RedeemRepo       repository.RedeemRepository
	GroupRepo        repository.GroupRepository
	TriggerRepo      repository.TriggerRepository
	VendorRepo       repository.VendorRepository
	JobRepo          repository.JobRepository
	DisbursementRepo repository.DisbursementRepository

	// Clients
	WalletClient *clients.WalletClient
	NATSClient   *clients.NATSClient

	// Core Services
	ChainRegistry       *services.ChainRegistry
	JobQueueService     *services.JobQueueService
	JobPushService      *services.JobPushService
	OtpService          *services.OtpService
	DisbursementService *services.DisbursementService
	TriggerService      *services.TriggerService
	ChainOpsService     *services.ChainOpsService

	natsOnce sync.Once
}

// Global service container instance
var Container *ServiceContainer
var containerOnce sync.Once

// InitializeContainer wires the container once and starts the queue workers
func InitializeContainer() (*ServiceContainer, error) {
	var initErr error

	containerOnce.Do(func() {
		log.Println("🚀 Initializing Service Container...")

		container := &ServiceContainer{
			DB: db.DB,
		}

		if err := container.initRepositories(); err != nil {
			initErr = fmt.Errorf("failed to initialize repositories: %w", err)
			return
		}

		// NATS is optional: events are best-effort
		if err := container.initNATSClient(); err != nil {
			log.Printf("⚠️ NATS initialization skipped or failed: %v", err)
		}

		if err := container.initCoreServices(); err != nil {
			initErr = fmt.Errorf("failed to initialize core services: %w", err)
			return
		}

		Container = container
		log.Println("✅ Service Container initialized successfully")
	})

	return Container, initErr
}

func (c *ServiceContainer) initRepositories() error {
	log.Println("📦 Initializing Repositories...")

	c.OtpRepo = repository.NewOtpRepository(c.DB)
	c.RedeemRepo = repository.NewRedeemRepository(c.DB)
	c.GroupRepo = repository.NewGroupRepository(c.DB)
	c.TriggerRepo = repository.NewTriggerRepository(c.DB)
	c.VendorRepo = repository.NewVendorRepository(c.DB)
	c.JobRepo = repository.NewJobRepository(c.DB)
	c.DisbursementRepo = repository.NewDisbursementRepository(c.DB)

	log.Println("✅ Repositories initialized")
	return nil
}

func (c *ServiceContainer) initCoreServices() error {
	log.Println("🔧 Initializing Core Services...")

	c.WalletClient = clients.NewWalletClient(config.AppConfig.Wallet)
	if err := c.WalletClient.HealthCheck(); err != nil {
		log.Printf("⚠️ [ServiceContainer] Wallet service not reachable: %v", err)
		log.Printf("   → OTP issuance and redemption will fail until it comes up")
	}

	// Ledger adapter registry. Adapters are built lazily per configured
	// chain, so a bad chain config only fails when that chain is used.
	c.ChainRegistry = services.NewChainRegistry(config.AppConfig.DefaultChain)
	c.ChainRegistry.RegisterBuilder(services.ChainKindStellar,
		func(chainName string, settings *config.ChainSettings) (services.ChainService, error) {
			return services.NewStellarChainService(chainName, settings)
		})
	c.ChainRegistry.RegisterBuilder(services.ChainKindEvm,
		func(chainName string, settings *config.ChainSettings) (services.ChainService, error) {
			return services.NewEvmChainService(chainName, settings)
		})

	// Job queue
	pollInterval := time.Duration(config.AppConfig.Queue.PollIntervalMs) * time.Millisecond
	staleAfter := time.Duration(config.AppConfig.Queue.StaleJobMins) * time.Minute
	c.JobQueueService = services.NewJobQueueService(
		c.JobRepo,
		c.NATSClient,
		pollInterval,
		staleAfter,
		config.AppConfig.Queue.Concurrency,
	)

	c.JobPushService = services.NewJobPushService()
	c.JobQueueService.SetPushService(c.JobPushService)

	// Domain services register their own job handlers on construction,
	// so all of them must exist before the queue starts.
	c.OtpService = services.NewOtpService(
		c.OtpRepo,
		c.RedeemRepo,
		c.VendorRepo,
		c.WalletClient,
		c.ChainRegistry,
		c.NATSClient,
	)
	c.DisbursementService = services.NewDisbursementService(
		c.GroupRepo,
		c.DisbursementRepo,
		c.JobQueueService,
		c.ChainRegistry,
		c.NATSClient,
	)
	c.TriggerService = services.NewTriggerService(
		c.TriggerRepo,
		c.JobQueueService,
		c.ChainRegistry,
		c.NATSClient,
	)
	c.ChainOpsService = services.NewChainOpsService(c.JobQueueService, c.ChainRegistry)

	c.JobQueueService.Start()
	log.Printf("✅ [ServiceContainer] Job queue service started")

	if err := c.DisbursementService.RecoverStaleGroups(context.Background()); err != nil {
		log.Printf("⚠️ [ServiceContainer] stale group recovery failed: %v", err)
	}

	log.Println("✅ Core Services initialized")
	return nil
}

func (c *ServiceContainer) initNATSClient() error {
	if config.AppConfig == nil || !config.AppConfig.NATS.Enabled || config.AppConfig.NATS.URL == "" {
		return fmt.Errorf("NATS not configured")
	}

	var initErr error
	c.natsOnce.Do(func() {
		log.Println("🔌 Connecting to NATS...")

		natsClient, err := clients.NewNATSClient(config.AppConfig.NATS)
		if err != nil {
			log.Printf("❌ Failed to connect to NATS at %s: %v", config.AppConfig.NATS.URL, err)
			initErr = fmt.Errorf("failed to create NATS client: %w", err)
			return
		}

		c.NATSClient = natsClient
		log.Printf("✅ NATS client connected: %s", config.AppConfig.NATS.URL)
	})

	return initErr
}

// Cleanup stops background workers and closes connections
func (c *ServiceContainer) Cleanup() {
	log.Println("🧹 Cleaning up Service Container...")

	if c.JobQueueService != nil {
		c.JobQueueService.Stop()
	}

	if c.NATSClient != nil {
		c.NATSClient.Close()
	}

	log.Println("✅ Service Container cleaned up")
}
