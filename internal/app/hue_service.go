package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/dokzlo13/huey/internal/config"
	"github.com/dokzlo13/huey/internal/hue"
	"github.com/dokzlo13/huey/internal/ledger"
	"github.com/dokzlo13/huey/internal/storage"
)

var (
	// ErrNotPaired means no usable address and credential are known.
	ErrNotPaired = errors.New("not paired with a bridge: run \"huey pair\" first")

	// ErrUnknownLight means a light reference matched nothing in the listing.
	ErrUnknownLight = errors.New("unknown light")
)

// fanOutLimit bounds concurrent requests when one command touches many lights.
const fanOutLimit = 4

// Ledger sources.
const (
	SourceCLI   = "cli"
	SourceShell = "shell"
)

// HueService wraps the bridge client together with the stores it feeds:
// the paired endpoint, light snapshots and the history ledger.
type HueService struct {
	cfg *config.Config

	Client   *hue.Client
	registry *storage.Registry
	ledger   *ledger.Ledger
}

// NewHueService creates a new HueService around client.
func NewHueService(cfg *config.Config, client *hue.Client, registry *storage.Registry, l *ledger.Ledger) *HueService {
	return &HueService{
		cfg:      cfg,
		Client:   client,
		registry: registry,
		ledger:   l,
	}
}

// Endpoint resolves the bridge to talk to. Configured values (which already
// carry command-line overrides) win over the stored endpoint; a stored
// credential is only used for the address it was issued by.
func (s *HueService) Endpoint() (hue.Endpoint, error) {
	stored, ok, err := s.registry.Endpoint()
	if err != nil {
		return hue.Endpoint{}, fmt.Errorf("failed to load endpoint: %w", err)
	}

	ep := hue.NewEndpoint(s.cfg.Hue.Bridge, s.cfg.Hue.Token)
	if ok {
		if ep.Address == "" {
			ep.Address = stored.Address
		}
		if ep.Credential == "" && ep.Address == stored.Address {
			ep.Credential = stored.Credential
		}
	}

	if ep.IsZero() {
		return hue.Endpoint{}, ErrNotPaired
	}
	return ep, nil
}

// Discover returns the address of a bridge on the local network.
func (s *HueService) Discover(ctx context.Context) (string, error) {
	address, err := s.Client.Discover(ctx)
	if err != nil {
		return "", err
	}
	log.Info().Str("address", address).Msg("Discovered bridge")
	return address, nil
}

// Pair registers with the bridge at address (configured or discovered when
// empty) and stores the endpoint. With wait set, a missing link button press
// is retried up to the configured number of attempts.
func (s *HueService) Pair(ctx context.Context, address string, wait bool) (hue.Endpoint, error) {
	if address == "" {
		address = s.cfg.Hue.Bridge
	}
	if address == "" {
		discovered, err := s.Discover(ctx)
		if err != nil {
			return hue.Endpoint{}, err
		}
		address = discovered
	}

	attempts := 1
	if wait {
		attempts = max(s.cfg.Hue.PairAttempts, 1)
	}
	interval := s.cfg.Hue.PairInterval.Duration()

	for attempt := 1; ; attempt++ {
		ep, err := s.Client.Pair(ctx, address)
		if err == nil {
			if err := s.registry.SaveEndpoint(ep); err != nil {
				return hue.Endpoint{}, fmt.Errorf("failed to store endpoint: %w", err)
			}
			s.record(ledger.EventPaired, "", SourceCLI, map[string]any{"address": ep.Address}, nil)
			log.Debug().Str("address", ep.Address).Msg("Endpoint stored")
			return ep, nil
		}

		if !hue.IsRetryable(err) || attempt >= attempts {
			return hue.Endpoint{}, err
		}

		log.Info().
			Int("attempt", attempt).
			Int("of", attempts).
			Msg("Press the link button on the bridge")

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return hue.Endpoint{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// Forget discards the stored endpoint and light snapshots.
func (s *HueService) Forget() error {
	return s.registry.ForgetEndpoint()
}

// Lights lists lights from the bridge and refreshes the snapshot cache.
func (s *HueService) Lights(ctx context.Context, ep hue.Endpoint) ([]hue.Light, error) {
	lights, err := s.Client.ListLights(ctx, ep)
	if err != nil {
		return nil, err
	}
	hue.SortLights(lights)

	if err := s.registry.SaveLights(lights); err != nil {
		log.Warn().Err(err).Msg("Failed to cache light snapshots")
	}
	return lights, nil
}

// CachedLights returns the snapshots from the last listing without
// contacting the bridge.
func (s *HueService) CachedLights() ([]hue.Light, time.Time, error) {
	return s.registry.Lights()
}

// Apply sends tx and records the outcome in the ledger.
func (s *HueService) Apply(ctx context.Context, ep hue.Endpoint, tx hue.Transaction, source string) error {
	err := s.Client.Apply(ctx, ep, tx)
	s.RecordResult(tx, source, err)
	return err
}

// RecordResult writes the outcome of an applied transaction to the ledger.
func (s *HueService) RecordResult(tx hue.Transaction, source string, cause error) {
	eventType := ledger.EventTxApplied
	if cause != nil {
		eventType = ledger.EventTxFailed
	}
	s.record(eventType, tx.LightID, source, tx, cause)
}

// PowerAll switches every light that is not already in the requested state.
// Failures do not stop the other lights; the first error is returned.
func (s *HueService) PowerAll(ctx context.Context, ep hue.Endpoint, lights []hue.Light, on bool) (int, error) {
	targets := lo.Filter(lights, func(l hue.Light, _ int) bool {
		return l.IsOn != on
	})

	var g errgroup.Group
	g.SetLimit(fanOutLimit)
	for _, l := range targets {
		g.Go(func() error {
			if err := s.Apply(ctx, ep, hue.Power(l.ID, on), SourceCLI); err != nil {
				return fmt.Errorf("%s: %w", l.Name, err)
			}
			return nil
		})
	}
	return len(targets), g.Wait()
}

// ResolveLightID turns a light reference into an id. A ref that is a resource
// id is returned as is, without contacting the bridge, so lights the listing
// skips can still be addressed; any other ref is matched by name against a
// fresh listing.
func (s *HueService) ResolveLightID(ctx context.Context, ep hue.Endpoint, ref string) (string, error) {
	if uuid.Validate(ref) == nil {
		return ref, nil
	}
	lights, err := s.Lights(ctx, ep)
	if err != nil {
		return "", err
	}
	l, err := FindLight(lights, ref)
	if err != nil {
		return "", err
	}
	return l.ID, nil
}

// FindLight matches ref against light ids first, then names (case-insensitive).
func FindLight(lights []hue.Light, ref string) (hue.Light, error) {
	if l, ok := lo.Find(lights, func(l hue.Light) bool { return l.ID == ref }); ok {
		return l, nil
	}
	if l, ok := lo.Find(lights, func(l hue.Light) bool { return strings.EqualFold(l.Name, ref) }); ok {
		return l, nil
	}
	return hue.Light{}, fmt.Errorf("%w: %q", ErrUnknownLight, ref)
}

// Close releases the client.
func (s *HueService) Close() {
	if s.Client != nil {
		s.Client.Close()
	}
}

func (s *HueService) record(eventType ledger.EventType, lightID, source string, payload any, cause error) {
	if err := s.ledger.Append(eventType, lightID, source, payload, cause); err != nil {
		log.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to record history")
	}
}
