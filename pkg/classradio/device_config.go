package classradio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"sync"

	"github.com/exepirit/classradio/internal/log"
	"gopkg.in/yaml.v3"
)

// Field declares a key a Store accepts and its default value.
type Field struct {
	Key     string
	Default any
}

// Store is a small persisted key/value set backed by a flat YAML file.
// Values are coerced on load: integers first, then strings; null stays nil.
// A missing or corrupt file never fails the caller, it yields the defaults.
type Store struct {
	Path   string
	Logger log.Logger

	mu     sync.Mutex
	fields []Field
	values map[string]any
}

// NewStore creates a store holding the defaults of fields.
func NewStore(path string, fields []Field, logger log.Logger) *Store {
	s := &Store{
		Path:   path,
		Logger: log.OrDefault(logger),
		fields: fields,
	}
	s.values = s.defaults()
	return s
}

func (s *Store) defaults() map[string]any {
	values := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		values[f.Key] = f.Default
	}
	return values
}

func (s *Store) known(key string) bool {
	return slices.ContainsFunc(s.fields, func(f Field) bool { return f.Key == key })
}

// Load reads the file. It returns false when defaults were used instead.
func (s *Store) Load() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = s.defaults()

	data, err := os.ReadFile(s.Path)
	if err != nil {
		s.Logger.Warn("Config file is not readable, using defaults", "path", s.Path, "error", err)
		return false
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		s.Logger.Warn("Config file is corrupt, using defaults", "path", s.Path, "error", err)
		return false
	}

	for key, value := range raw {
		if !s.known(key) {
			s.Logger.Debug("Ignoring unknown config key", "path", s.Path, "key", key)
			continue
		}
		s.values[key] = coerce(value)
	}
	return true
}

// Save writes every field to the file. Failures are logged and reported as false.
func (s *Store) Save() bool {
	s.mu.Lock()
	data, err := yaml.Marshal(s.values)
	s.mu.Unlock()
	if err != nil {
		s.Logger.Error("Cannot encode config", "path", s.Path, "error", err)
		return false
	}

	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		s.Logger.Error("Cannot save config", "path", s.Path, "error", err)
		return false
	}
	return true
}

// Get returns the raw value of key, or nil for an unknown key.
func (s *Store) Get(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// GetInt returns key as an integer, or 0 when it has no integer form.
func (s *Store) GetInt(key string) int {
	switch v := s.Get(key).(type) {
	case int:
		return v
	case bool:
		if v {
			return 1
		}
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// GetString returns key formatted as a string; nil becomes "".
func (s *Store) GetString(key string) string {
	v := s.Get(key)
	if v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

func (s *Store) GetBool(key string) bool {
	switch v := s.Get(key).(type) {
	case bool:
		return v
	case int:
		return v != 0
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// Set changes a known key in memory. Call Save to persist it.
func (s *Store) Set(key string, value any) error {
	if !s.known(key) {
		return fmt.Errorf("config key %q is not declared", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = coerce(value)
	return nil
}

func coerce(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		return v
	default:
		return fmt.Sprint(v)
	}
}

const (
	KeyRole  = "role"
	KeyGroup = "grupo"
)

// DeviceConfig is the persisted group and role of a device.
// Group always lies in [1, MaxGroup] and Role is always one of Roles.
type DeviceConfig struct {
	*Store
	Roles    []string
	MaxGroup int
}

// NewDeviceConfig creates a config with role Roles[0] and group 1, plus any extra fields.
// A maxGroup below 1 is raised to 1.
func NewDeviceConfig(path string, roles []string, maxGroup int, logger log.Logger, extra ...Field) *DeviceConfig {
	if len(roles) == 0 {
		panic("classradio: device config needs at least one role")
	}
	if maxGroup < 1 {
		log.OrDefault(logger).Warn("Max group below 1, using 1", "max_group", maxGroup)
		maxGroup = 1
	}
	fields := append([]Field{
		{Key: KeyRole, Default: roles[0]},
		{Key: KeyGroup, Default: 1},
	}, extra...)
	return &DeviceConfig{
		Store:    NewStore(path, fields, logger),
		Roles:    roles,
		MaxGroup: maxGroup,
	}
}

// Load reads the file and corrects values outside the valid range, saving the correction.
func (c *DeviceConfig) Load() bool {
	ok := c.Store.Load()

	corrected := false
	if g := c.GetInt(KeyGroup); g < 1 || g > c.MaxGroup {
		c.Logger.Warn("Group out of range, reset to 1", "group", g)
		_ = c.Set(KeyGroup, 1)
		corrected = true
	}
	if r := c.GetString(KeyRole); !slices.Contains(c.Roles, r) {
		c.Logger.Warn("Unknown role, reset to first role", "role", r)
		_ = c.Set(KeyRole, c.Roles[0])
		corrected = true
	}
	if corrected {
		c.Save()
	}
	return ok
}

func (c *DeviceConfig) Role() string {
	return c.GetString(KeyRole)
}

func (c *DeviceConfig) Group() int {
	return c.GetInt(KeyGroup)
}

// RoleIndex returns the position of the current role in Roles.
func (c *DeviceConfig) RoleIndex() (int, error) {
	i := slices.Index(c.Roles, c.Role())
	if i < 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, c.Role())
	}
	return i, nil
}

// SetRole assigns a role from Roles and saves it.
func (c *DeviceConfig) SetRole(role string) error {
	if !slices.Contains(c.Roles, role) {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	_ = c.Set(KeyRole, role)
	c.Save()
	return nil
}

// SetGroup assigns a group in [1, MaxGroup] and saves it.
func (c *DeviceConfig) SetGroup(group int) error {
	if group < 1 || group > c.MaxGroup {
		return errors.New("group out of range")
	}
	_ = c.Set(KeyGroup, group)
	c.Save()
	return nil
}

// CycleRole moves to the next role, wrapping from the last to the first, and saves.
func (c *DeviceConfig) CycleRole() string {
	i, err := c.RoleIndex()
	if err != nil {
		i = -1
	}
	next := c.Roles[(i+1)%len(c.Roles)]
	_ = c.Set(KeyRole, next)
	c.Save()
	return next
}

// CycleGroup moves to the next group, wrapping from MaxGroup to 1, and saves.
func (c *DeviceConfig) CycleGroup() int {
	next := c.Group()%c.MaxGroup + 1
	_ = c.Set(KeyGroup, next)
	c.Save()
	return next
}
