package storage

import (
	"time"

	"github.com/dokzlo13/huey/internal/hue"
)

// Resource kinds kept in resource_state.
const (
	KindEndpoint = "endpoint"
	KindLight    = "light"
)

// defaultEndpointID is the single slot for the paired bridge; huey manages one bridge.
const defaultEndpointID = "default"

// Registry provides centralized access to all typed stores.
type Registry struct {
	base      *Store
	endpoints *TypedStore[hue.Endpoint]
	lights    *TypedStore[hue.Light]
}

// NewRegistry creates a registry with typed stores for each resource kind.
func NewRegistry(base *Store) *Registry {
	return &Registry{
		base:      base,
		endpoints: NewTypedStore[hue.Endpoint](base, KindEndpoint),
		lights:    NewTypedStore[hue.Light](base, KindLight),
	}
}

// Endpoint returns the stored bridge endpoint, if any.
func (r *Registry) Endpoint() (hue.Endpoint, bool, error) {
	return r.endpoints.Get(defaultEndpointID)
}

// SaveEndpoint persists ep as the bridge to use.
func (r *Registry) SaveEndpoint(ep hue.Endpoint) error {
	return r.endpoints.Set(defaultEndpointID, ep)
}

// ForgetEndpoint discards the stored credential. Cached light snapshots
// belong to that bridge and are dropped with it.
func (r *Registry) ForgetEndpoint() error {
	if err := r.endpoints.Delete(defaultEndpointID); err != nil {
		return err
	}
	return r.lights.Clear()
}

// SaveLights replaces the cached snapshots with lights.
func (r *Registry) SaveLights(lights []hue.Light) error {
	byID := make(map[string]hue.Light, len(lights))
	for _, l := range lights {
		byID[l.ID] = l
	}
	return r.lights.Replace(byID)
}

// Lights returns the cached snapshots sorted by name, and when they were taken.
func (r *Registry) Lights() ([]hue.Light, time.Time, error) {
	byID, takenAt, err := r.lights.GetAll()
	if err != nil {
		return nil, time.Time{}, err
	}

	lights := make([]hue.Light, 0, len(byID))
	for _, l := range byID {
		lights = append(lights, l)
	}
	hue.SortLights(lights)

	return lights, takenAt, nil
}
