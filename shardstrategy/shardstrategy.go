// Package shardstrategy maps tree paths to the names of
// the shards that own them.
package shardstrategy

import (
	"errors"
	"fmt"

	"github.com/jrife/arbor/config"
	"github.com/jrife/arbor/tree"
)

var (
	// ErrNoShard indicates that a path resolves to no configured shard
	ErrNoShard = errors.New("no shard owns this path")
)

// RoutingError is returned when a path cannot be routed to a shard
type RoutingError struct {
	Path   tree.Path
	Reason string
}

func (err *RoutingError) Error() string {
	return fmt.Sprintf("could not route %s: %s", err.Path, err.Reason)
}

// Is makes errors.Is(err, ErrNoShard) hold
func (err *RoutingError) Is(target error) bool {
	return target == ErrNoShard
}

// Strategy resolves a path to a shard name. Implementations
// must be deterministic and free of side effects.
type Strategy interface {
	Resolve(path tree.Path) (string, error)
}

// ModuleShardStrategy routes every path of a module to the
// first shard configured for it
type ModuleShardStrategy struct {
	module string
	shard  string
}

// NewModuleShardStrategy creates a strategy for module
func NewModuleShardStrategy(module string, c *config.Config) *ModuleShardStrategy {
	strategy := &ModuleShardStrategy{module: module}

	if shards := c.ShardsForModule(module); len(shards) > 0 {
		strategy.shard = shards[0]
	}

	return strategy
}

// Resolve implements Strategy.Resolve
func (strategy *ModuleShardStrategy) Resolve(path tree.Path) (string, error) {
	if strategy.shard == "" {
		return "", &RoutingError{Path: path, Reason: fmt.Sprintf("module %s has no shards", strategy.module)}
	}

	return strategy.shard, nil
}

// DefaultShardStrategy routes everything to the default shard
type DefaultShardStrategy struct {
	shard string
}

// NewDefaultShardStrategy creates a strategy routing to shard
func NewDefaultShardStrategy(shard string) *DefaultShardStrategy {
	return &DefaultShardStrategy{shard: shard}
}

// Resolve implements Strategy.Resolve
func (strategy *DefaultShardStrategy) Resolve(path tree.Path) (string, error) {
	if strategy.shard == "" {
		return "", &RoutingError{Path: path, Reason: "no default shard is configured"}
	}

	return strategy.shard, nil
}

// Factory picks the strategy responsible for a path. It is
// built once from a configuration and is safe for concurrent use.
type Factory struct {
	byNamespace map[tree.QName]Strategy
	fallback    Strategy
}

var _ Strategy = (*Factory)(nil)

// NewFactory builds a factory from c
func NewFactory(c *config.Config) *Factory {
	factory := &Factory{
		byNamespace: map[tree.QName]Strategy{},
		fallback:    NewDefaultShardStrategy(c.DefaultShard),
	}

	for _, module := range c.Modules {
		if module.ShardStrategy == config.ShardStrategyModule {
			factory.byNamespace[tree.QName(module.Namespace)] = NewModuleShardStrategy(module.Name, c)
		}
	}

	return factory
}

// Strategy returns the strategy responsible for path
func (factory *Factory) Strategy(path tree.Path) Strategy {
	if len(path) > 0 {
		if strategy, ok := factory.byNamespace[path[0]]; ok {
			return strategy
		}
	}

	return factory.fallback
}

// Resolve resolves path with the strategy responsible for it
func (factory *Factory) Resolve(path tree.Path) (string, error) {
	if len(path) == 0 {
		return "", &RoutingError{Path: path, Reason: "the root path spans every shard"}
	}

	return factory.Strategy(path).Resolve(path)
}
