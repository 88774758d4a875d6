package app

import (
	"github.com/dokzlo13/huey/internal/config"
	"github.com/dokzlo13/huey/internal/db"
	"github.com/dokzlo13/huey/internal/hue"
	"github.com/dokzlo13/huey/internal/ledger"
	"github.com/dokzlo13/huey/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger

	// State store (endpoint and light snapshots)
	Store    *storage.Store
	Registry *storage.Registry

	Hue *HueService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize ledger
	s.Ledger = ledger.New(database.DB)

	// Initialize state store
	s.Store = storage.NewStore(database.DB)
	s.Registry = storage.NewRegistry(s.Store)

	client := hue.NewClient(hue.Config{
		Timeout:      cfg.Hue.Timeout.Duration(),
		DiscoveryURL: cfg.Hue.DiscoveryURL,
		DeviceType:   cfg.Hue.DeviceType,
		RateLimitRPS: cfg.Hue.RateLimitRPS,
	})
	s.Hue = NewHueService(cfg, client, s.Registry, s.Ledger)

	return s, nil
}

// PruneHistory applies the history retention policy.
func (s *Services) PruneHistory() (int64, error) {
	return s.Ledger.DeleteOlderThan(s.cfg.History.Retention())
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Hue != nil {
		s.Hue.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
