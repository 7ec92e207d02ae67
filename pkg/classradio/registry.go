package classradio

import (
	"fmt"
	"os"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// RegistryEntry is a device known to the hub.
type RegistryEntry struct {
	Key      string
	DeviceID string
	Group    int
	Role     string
}

// RegisterResult tells how a registration changed the registry.
type RegisterResult int

const (
	// RegisterNew added a key that was not present.
	RegisterNew RegisterResult = iota
	// RegisterRefresh saw the same device under the same key again.
	RegisterRefresh
	// RegisterCollision replaced another device holding the same key.
	RegisterCollision
)

// RegistryKey returns "G<group>:<role>", or the device id when group or role is unknown.
func RegistryKey(deviceID string, group int, role string) string {
	if group == 0 || role == "" {
		return deviceID
	}
	return fmt.Sprintf("G%d:%s", group, role)
}

// Registry holds the devices found by the last discovery, in discovery order.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	order   []string
	entries map[string]RegistryEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]RegistryEntry{}}
}

// Register stores entry under its key. The last writer wins; a replaced
// device is returned together with RegisterCollision. A replaced key keeps
// its original position.
func (r *Registry) Register(entry RegistryEntry) (RegisterResult, RegistryEntry) {
	if entry.Key == "" {
		entry.Key = RegistryKey(entry.DeviceID, entry.Group, entry.Role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.entries[entry.Key]
	r.entries[entry.Key] = entry
	switch {
	case !exists:
		r.order = append(r.order, entry.Key)
		return RegisterNew, RegistryEntry{}
	case prev.DeviceID == entry.DeviceID:
		return RegisterRefresh, prev
	default:
		return RegisterCollision, prev
	}
}

func (r *Registry) Get(key string) (RegistryEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return e, ok
}

// Entries returns a copy of the entries in discovery order.
func (r *Registry) Entries() []RegistryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RegistryEntry, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.entries[key])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.entries = map[string]RegistryEntry{}
}

// Save writes the registry to path as a protobuf-encoded list of structs.
func (r *Registry) Save(path string) error {
	entries := r.Entries()
	items := make([]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]any{
			"key":       e.Key,
			"device_id": e.DeviceID,
			"grupo":     e.Group,
			"role":      e.Role,
		})
	}

	list, err := structpb.NewList(items)
	if err != nil {
		return fmt.Errorf("failed to build registry message: %w", err)
	}
	data, err := proto.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return nil
}

// Load replaces the registry with the content of path.
func (r *Registry) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read registry: %w", err)
	}

	list := new(structpb.ListValue)
	if err := proto.Unmarshal(data, list); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPacketFormat, err)
	}

	r.Clear()
	for _, value := range list.GetValues() {
		fields := value.GetStructValue().GetFields()
		if fields == nil {
			continue
		}
		r.Register(RegistryEntry{
			Key:      fields["key"].GetStringValue(),
			DeviceID: fields["device_id"].GetStringValue(),
			Group:    int(fields["grupo"].GetNumberValue()),
			Role:     fields["role"].GetStringValue(),
		})
	}
	return nil
}
