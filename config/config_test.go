package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/arbor/config"
	"go.uber.org/zap/zapcore"
)

const carsAndPeople = `
member-name = "member-1"
default-shard = "default"

[[modules]]
name = "cars"
namespace = "cars"
shard-strategy = "module"

[[modules]]
name = "people"
namespace = "people"
shard-strategy = "module"

[[module-shards]]
module-name = "cars"
  [[module-shards.shards]]
  name = "cars-1"
  replicas = ["member-1", "member-2"]

[[module-shards]]
module-name = "people"
  [[module-shards.shards]]
  name = "people-1"
  replicas = ["member-2"]

[storage]
plugin = "bbolt"
path = "/var/lib/arbor"

[shard]
transaction-commit-timeout = "1m"

[logging]
level = "debug"
`

func TestConfig_Parse(t *testing.T) {
	c, err := config.Parse(carsAndPeople)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if c.MemberName != "member-1" {
		t.Fatalf("unexpected member name: %s", c.MemberName)
	} else if c.Storage.Plugin != "bbolt" || c.Storage.Store != config.DefaultStoreName {
		t.Fatalf("unexpected storage: %#v", c.Storage)
	} else if time.Duration(c.Shard.CommitTimeout) != time.Minute {
		t.Fatalf("unexpected commit timeout: %v", c.Shard.CommitTimeout)
	} else if c.Shard.MailboxCapacity != config.DefaultMailboxCapacity {
		t.Fatalf("unexpected mailbox capacity: %d", c.Shard.MailboxCapacity)
	} else if c.Logging.Level != zapcore.DebugLevel {
		t.Fatalf("unexpected log level: %v", c.Logging.Level)
	}

	if diff := cmp.Diff([]string{"cars-1"}, c.ShardsForModule("cars")); diff != "" {
		t.Fatal(diff)
	}

	if diff := cmp.Diff([]string{"cars-1", "default"}, c.MemberShardNames("member-1")); diff != "" {
		t.Fatal(diff)
	}

	if diff := cmp.Diff([]string{"cars-1", "default", "people-1"}, c.MemberShardNames("member-2")); diff != "" {
		t.Fatal(diff)
	}

	module, ok := c.ModuleForNamespace("people")

	if !ok || module.Name != "people" {
		t.Fatalf("expected to find module people, got %#v", module)
	}

	if _, ok := c.ModuleForNamespace("boats"); ok {
		t.Fatalf("expected no module for boats")
	}
}

func TestConfig_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbor.toml")

	if err := os.WriteFile(path, []byte(carsAndPeople), 0644); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	c, err := config.Load(path)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff([]string{"cars", "people"}, c.Namespaces()); diff != "" {
		t.Fatal(diff)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestConfig_Validate(t *testing.T) {
	testCases := map[string]struct {
		mutate func(c *config.Config)
		ok     bool
	}{
		"defaults": {
			mutate: func(c *config.Config) {},
			ok:     true,
		},
		"no-member": {
			mutate: func(c *config.Config) { c.MemberName = "" },
		},
		"no-plugin": {
			mutate: func(c *config.Config) { c.Storage.Plugin = "" },
		},
		"zero-commit-timeout": {
			mutate: func(c *config.Config) { c.Shard.CommitTimeout = 0 },
		},
		"negative-history": {
			mutate: func(c *config.Config) { c.Shard.ConflictHistory = -1 },
		},
		"duplicate-module": {
			mutate: func(c *config.Config) {
				c.Modules = []config.Module{{Name: "cars", Namespace: "cars"}, {Name: "cars", Namespace: "trucks"}}
			},
		},
		"duplicate-namespace": {
			mutate: func(c *config.Config) {
				c.Modules = []config.Module{{Name: "cars", Namespace: "cars"}, {Name: "trucks", Namespace: "cars"}}
			},
		},
		"unknown-strategy": {
			mutate: func(c *config.Config) {
				c.Modules = []config.Module{{Name: "cars", Namespace: "cars", ShardStrategy: "hash"}}
			},
		},
		"module-strategy-without-shards": {
			mutate: func(c *config.Config) {
				c.Modules = []config.Module{{Name: "cars", Namespace: "cars", ShardStrategy: config.ShardStrategyModule}}
			},
		},
		"shards-for-unknown-module": {
			mutate: func(c *config.Config) {
				c.ModuleShards = []config.ModuleShards{{ModuleName: "boats", Shards: []config.ShardConfig{{Name: "boats-1"}}}}
			},
		},
		"duplicate-shard": {
			mutate: func(c *config.Config) {
				c.Modules = []config.Module{{Name: "cars", Namespace: "cars"}, {Name: "people", Namespace: "people"}}
				c.ModuleShards = []config.ModuleShards{
					{ModuleName: "cars", Shards: []config.ShardConfig{{Name: "shard-1"}}},
					{ModuleName: "people", Shards: []config.ShardConfig{{Name: "shard-1"}}},
				}
			},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			c := config.NewConfig()
			testCase.mutate(c)
			err := c.Validate()

			if testCase.ok && err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			} else if !testCase.ok && !errors.Is(err, config.ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %#v", err)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	var d config.Duration

	if err := d.UnmarshalText([]byte("250ms")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if time.Duration(d) != 250*time.Millisecond {
		t.Fatalf("unexpected duration: %v", d)
	}

	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Fatalf("expected an error")
	}

	text, _ := d.MarshalText()

	if string(text) != "250ms" {
		t.Fatalf("unexpected text: %s", text)
	}
}
