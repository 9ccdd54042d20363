// Package config describes the static cluster configuration:
// which modules exist, which shards serve them and which
// shards the local member hosts. A Config is loaded once
// and is read-only afterwards.
package config

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jrife/arbor/utils/log"
)

const (
	// DefaultMemberName is the member name used when none is configured
	DefaultMemberName = "member-1"

	// DefaultShardName is the name of the shard serving paths that
	// belong to no module with a dedicated shard strategy
	DefaultShardName = "default"

	// DefaultStoreName names the data store, e.g. config or operational
	DefaultStoreName = "config"

	// DefaultStoragePlugin is the kv plugin used when none is configured
	DefaultStoragePlugin = "memory"

	// DefaultMailboxCapacity is the number of requests a shard
	// buffers before senders block
	DefaultMailboxCapacity = 1024

	// DefaultCommitTimeout is how long a shard keeps a commit that
	// stopped progressing before it aborts it
	DefaultCommitTimeout = 30 * time.Second

	// DefaultConflictHistory is the number of recent commits a shard
	// retains to check new commits for conflicts
	DefaultConflictHistory = 1024

	// DefaultOperationTimeout bounds each step of a client operation
	DefaultOperationTimeout = 5 * time.Second
)

const (
	// ShardStrategyModule routes a module's paths to its first shard
	ShardStrategyModule = "module"
)

var (
	// ErrInvalid indicates that a configuration failed validation
	ErrInvalid = errors.New("invalid configuration")
)

// Config is the configuration of one data store member
type Config struct {
	MemberName   string         `toml:"member-name"`
	DefaultShard string         `toml:"default-shard"`
	Modules      []Module       `toml:"modules"`
	ModuleShards []ModuleShards `toml:"module-shards"`
	Storage      Storage        `toml:"storage"`
	Shard        Shard          `toml:"shard"`
	Logging      log.Config     `toml:"logging"`
}

// Module is a logical slice of the data model identified
// by the first element of the paths it owns
type Module struct {
	Name          string `toml:"name"`
	Namespace     string `toml:"namespace"`
	ShardStrategy string `toml:"shard-strategy"`
}

// ModuleShards lists the shards of a module
type ModuleShards struct {
	ModuleName string        `toml:"module-name"`
	Shards     []ShardConfig `toml:"shards"`
}

// ShardConfig names a shard and the members holding a replica of it
type ShardConfig struct {
	Name     string   `toml:"name"`
	Replicas []string `toml:"replicas"`
}

// Storage selects the kv plugin backing the shards
type Storage struct {
	Plugin string `toml:"plugin"`
	Path   string `toml:"path"`
	Store  string `toml:"store"`
}

// Shard tunes shard behavior
type Shard struct {
	MailboxCapacity  int      `toml:"mailbox-capacity"`
	CommitTimeout    Duration `toml:"transaction-commit-timeout"`
	ConflictHistory  int      `toml:"conflict-history"`
	OperationTimeout Duration `toml:"operation-timeout"`
}

// NewConfig returns a new instance of Config with defaults.
func NewConfig() *Config {
	c := &Config{}
	c.MemberName = DefaultMemberName
	c.DefaultShard = DefaultShardName

	c.Storage.Plugin = DefaultStoragePlugin
	c.Storage.Store = DefaultStoreName

	c.Shard.MailboxCapacity = DefaultMailboxCapacity
	c.Shard.CommitTimeout = Duration(DefaultCommitTimeout)
	c.Shard.ConflictHistory = DefaultConflictHistory
	c.Shard.OperationTimeout = Duration(DefaultOperationTimeout)

	c.Logging = log.NewConfig()

	return c
}

// Load parses the configuration file at path on top of the defaults
func Load(path string) (*Config, error) {
	c := NewConfig()

	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, fmt.Errorf("could not decode %s: %w", path, err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Parse parses a configuration string on top of the defaults
func Parse(s string) (*Config, error) {
	c := NewConfig()

	if _, err := toml.Decode(s, c); err != nil {
		return nil, fmt.Errorf("could not decode configuration: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Validate returns an error if the configuration is inconsistent
func (c *Config) Validate() error {
	if c.MemberName == "" {
		return fmt.Errorf("%w: member-name must be set", ErrInvalid)
	}

	if c.Storage.Plugin == "" {
		return fmt.Errorf("%w: storage.plugin must be set", ErrInvalid)
	}

	if c.Storage.Store == "" {
		return fmt.Errorf("%w: storage.store must be set", ErrInvalid)
	}

	if c.Shard.MailboxCapacity < 0 {
		return fmt.Errorf("%w: shard.mailbox-capacity must not be negative", ErrInvalid)
	}

	if c.Shard.CommitTimeout <= 0 {
		return fmt.Errorf("%w: shard.transaction-commit-timeout must be positive", ErrInvalid)
	}

	if c.Shard.ConflictHistory <= 0 {
		return fmt.Errorf("%w: shard.conflict-history must be positive", ErrInvalid)
	}

	if c.Shard.OperationTimeout <= 0 {
		return fmt.Errorf("%w: shard.operation-timeout must be positive", ErrInvalid)
	}

	modules := map[string]bool{}
	namespaces := map[string]bool{}

	for _, module := range c.Modules {
		if module.Name == "" || module.Namespace == "" {
			return fmt.Errorf("%w: modules need a name and a namespace", ErrInvalid)
		}

		if modules[module.Name] {
			return fmt.Errorf("%w: module %s is defined twice", ErrInvalid, module.Name)
		}

		if namespaces[module.Namespace] {
			return fmt.Errorf("%w: namespace %s is owned by more than one module", ErrInvalid, module.Namespace)
		}

		switch module.ShardStrategy {
		case "", ShardStrategyModule:
		default:
			return fmt.Errorf("%w: module %s has unknown shard strategy %q", ErrInvalid, module.Name, module.ShardStrategy)
		}

		modules[module.Name] = true
		namespaces[module.Namespace] = true
	}

	shards := map[string]bool{}

	for _, moduleShards := range c.ModuleShards {
		if !modules[moduleShards.ModuleName] && moduleShards.ModuleName != DefaultShardName {
			return fmt.Errorf("%w: module-shards refers to unknown module %s", ErrInvalid, moduleShards.ModuleName)
		}

		for _, shard := range moduleShards.Shards {
			if shard.Name == "" {
				return fmt.Errorf("%w: module %s has a shard without a name", ErrInvalid, moduleShards.ModuleName)
			}

			if shards[shard.Name] {
				return fmt.Errorf("%w: shard %s is defined twice", ErrInvalid, shard.Name)
			}

			shards[shard.Name] = true
		}
	}

	for _, module := range c.Modules {
		if module.ShardStrategy == ShardStrategyModule && len(c.ShardsForModule(module.Name)) == 0 {
			return fmt.Errorf("%w: module %s uses the module shard strategy but has no shards", ErrInvalid, module.Name)
		}
	}

	return nil
}

// ModuleForNamespace returns the module owning namespace
func (c *Config) ModuleForNamespace(namespace string) (Module, bool) {
	for _, module := range c.Modules {
		if module.Namespace == namespace {
			return module, true
		}
	}

	return Module{}, false
}

// ShardsForModule returns the names of the shards configured for module in order
func (c *Config) ShardsForModule(module string) []string {
	var names []string

	for _, moduleShards := range c.ModuleShards {
		if moduleShards.ModuleName != module {
			continue
		}

		for _, shard := range moduleShards.Shards {
			names = append(names, shard.Name)
		}
	}

	return names
}

// MemberShardNames returns the sorted names of the shards that member
// hosts. A shard without replicas is hosted by every member. The default
// shard is hosted by every member unless module-shards configures it.
func (c *Config) MemberShardNames(member string) []string {
	hosted := map[string]bool{}
	configured := map[string]bool{}

	for _, moduleShards := range c.ModuleShards {
		for _, shard := range moduleShards.Shards {
			configured[shard.Name] = true

			if len(shard.Replicas) == 0 {
				hosted[shard.Name] = true

				continue
			}

			for _, replica := range shard.Replicas {
				if replica == member {
					hosted[shard.Name] = true
				}
			}
		}
	}

	if c.DefaultShard != "" && !configured[c.DefaultShard] {
		hosted[c.DefaultShard] = true
	}

	names := make([]string, 0, len(hosted))

	for name := range hosted {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Namespaces returns the namespaces of all configured modules in sorted order
func (c *Config) Namespaces() []string {
	namespaces := make([]string, 0, len(c.Modules))

	for _, module := range c.Modules {
		namespaces = append(namespaces, module.Namespace)
	}

	sort.Strings(namespaces)

	return namespaces
}
