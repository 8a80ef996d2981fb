package variant

import (
	"fmt"
	"sort"

	"github.com/srg/deskble/internal/device"
	"github.com/srg/deskble/internal/protocol"
)

// sig expands a 16-bit assigned number onto the Bluetooth SIG base UUID.
func sig(short uint16) string {
	return fmt.Sprintf("0000%04x-0000-1000-8000-00805f9b34fb", short)
}

var omniCommandSync = protocol.SyncBytes{0xF2, 0xF2}
var omniNotificationSync = protocol.SyncBytes{0xF1, 0xF1}

// builtin maps primary service UUID to dialect. Keys must equal the entry's
// own ServiceUUID; NewRegistry enforces it.
var builtin = map[string]DeskConfig{
	sig(0x00FF): {
		Variant:               Jiecang0x00FF,
		ServiceUUID:           sig(0x00FF),
		InputCharUUID:         sig(0x01FF),
		OutputCharUUID:        sig(0x02FF),
		NameCharUUID:          sig(0x36EF),
		RequiresWake:          true,
		CommandSyncBytes:      protocol.DefaultCommandSync,
		NotificationSyncBytes: protocol.DefaultNotificationSync,
		HeightScale:           ScaleTenthMM,
	},
	sig(0xFE60): {
		Variant:               Omnidesk0xFE60,
		ServiceUUID:           sig(0xFE60),
		InputCharUUID:         sig(0xFE61),
		OutputCharUUID:        sig(0xFE62),
		NameCharUUID:          sig(0xFE63),
		RequiresWake:          true,
		CommandSyncBytes:      omniCommandSync,
		NotificationSyncBytes: omniNotificationSync,
		HeightScale:           ScaleMM,
	},
	sig(0xFF00): {
		Variant:               Jiecang0xFF00,
		ServiceUUID:           sig(0xFF00),
		InputCharUUID:         sig(0xFF01),
		OutputCharUUID:        sig(0xFF02),
		NameCharUUID:          sig(0xFE63),
		RequiresWake:          true,
		CommandSyncBytes:      protocol.DefaultCommandSync,
		NotificationSyncBytes: protocol.DefaultNotificationSync,
		HeightScale:           ScaleTenthMM,
	},
	sig(0xFF12): {
		Variant:               Omnidesk0xFF12,
		ServiceUUID:           sig(0xFF12),
		InputCharUUID:         sig(0xFF01),
		OutputCharUUID:        sig(0xFF02),
		NameCharUUID:          sig(0xFF06),
		RequiresWake:          true,
		CommandSyncBytes:      omniCommandSync,
		NotificationSyncBytes: omniNotificationSync,
		HeightScale:           ScaleMM,
	},
}

// Registry is an immutable lookup from primary service UUID to DeskConfig.
type Registry struct {
	byService map[string]DeskConfig // keyed by device.NormalizeUUID
	ids       []string              // sorted, as given in the table
}

// NewRegistry builds a registry from a service-keyed table. Every key must
// name the same service as its entry.
func NewRegistry(table map[string]DeskConfig) (*Registry, error) {
	r := &Registry{
		byService: make(map[string]DeskConfig, len(table)),
		ids:       make([]string, 0, len(table)),
	}
	for key, cfg := range table {
		nk := device.NormalizeUUID(key)
		if nk != device.NormalizeUUID(cfg.ServiceUUID) {
			return nil, fmt.Errorf("registry key %q does not match service UUID %q of %s", key, cfg.ServiceUUID, cfg.Variant)
		}
		if _, dup := r.byService[nk]; dup {
			return nil, fmt.Errorf("duplicate registry entry for service %q", key)
		}
		r.byService[nk] = cfg
		r.ids = append(r.ids, key)
	}
	sort.Strings(r.ids)
	return r, nil
}

// MustRegistry is NewRegistry that panics on an inconsistent table.
func MustRegistry(table map[string]DeskConfig) *Registry {
	r, err := NewRegistry(table)
	if err != nil {
		panic(err)
	}
	return r
}

var defaultRegistry = MustRegistry(builtin)

// Default returns the registry of known desk dialects.
func Default() *Registry {
	return defaultRegistry
}

// ConfigFor returns the config whose primary service is serviceID.
func (r *Registry) ConfigFor(serviceID string) (DeskConfig, bool) {
	cfg, ok := r.byService[device.NormalizeUUID(serviceID)]
	return cfg, ok
}

// AllServiceIDs returns every known primary service UUID, sorted.
func (r *Registry) AllServiceIDs() []string {
	return append([]string(nil), r.ids...)
}

// Configs returns all entries ordered by service UUID.
func (r *Registry) Configs() []DeskConfig {
	out := make([]DeskConfig, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.byService[device.NormalizeUUID(id)])
	}
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.byService)
}

// ConfigFor looks serviceID up in the default registry.
func ConfigFor(serviceID string) (DeskConfig, bool) {
	return defaultRegistry.ConfigFor(serviceID)
}

// AllServiceIDs returns the service UUIDs of the default registry.
func AllServiceIDs() []string {
	return defaultRegistry.AllServiceIDs()
}
