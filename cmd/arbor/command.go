package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jrife/arbor/config"
	"github.com/jrife/arbor/datastore"
	"github.com/jrife/arbor/tree"
	"github.com/jrife/arbor/utils/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const databaseFile = "arbor.db"

// errNotFound is returned by get when nothing exists at the path
var errNotFound = errors.New("not found")

type options struct {
	configPath string
	dataDir    string
	timeout    time.Duration
	logLevel   string
	roots      []string
}

// NewCommand creates the arbor command and its sub-commands
func NewCommand() *cobra.Command {
	var opts options

	base := &cobra.Command{
		Use:           "arbor",
		Short:         "Read and modify a sharded tree store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	base.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a TOML configuration file.")
	base.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Directory holding the bbolt database. Overrides the configured storage.")
	base.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "Bound on the whole operation. Defaults to the configured operation timeout.")
	base.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level, such as debug or warn.")
	base.PersistentFlags().StringSliceVar(&opts.roots, "root", nil, "Additional schema roots besides the configured module namespaces.")

	base.AddCommand(
		newShardsCommand(&opts),
		newGetCommand(&opts),
		newPutCommand(&opts),
		newDeleteCommand(&opts),
		newRootsCommand(&opts),
		newExportCommand(&opts),
		newImportCommand(&opts),
	)

	return base
}

func newShardsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "shards",
		Short: "List the shards hosted by the configured member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDataStore(cmd, opts, func(ctx context.Context, ds *datastore.DataStore) error {
				for _, name := range ds.ShardNames() {
					s, _ := ds.Shard(name)
					cmd.Printf("%s\t%s\n", name, s.State())
				}

				return nil
			})
		},
	}
}

func newGetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get PATH",
		Short: "Print the subtree at PATH as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := tree.ParsePath(args[0])

			if err != nil {
				return err
			}

			return withDataStore(cmd, opts, func(ctx context.Context, ds *datastore.DataStore) error {
				txn := ds.NewReadOnlyTransaction()
				defer txn.Close()

				node, err := txn.Read(ctx, path).Get(ctx)

				if err != nil {
					return err
				}

				if node == nil {
					return fmt.Errorf("%s: %w", path, errNotFound)
				}

				encoded, err := json.MarshalIndent(node, "", "  ")

				if err != nil {
					return fmt.Errorf("could not encode %s: %w", path, err)
				}

				cmd.Println(string(encoded))

				return nil
			})
		},
	}
}

func newPutCommand(opts *options) *cobra.Command {
	var merge bool

	cmd := &cobra.Command{
		Use:   "put PATH JSON",
		Short: "Write the JSON encoded node to PATH",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := tree.ParsePath(args[0])

			if err != nil {
				return err
			}

			var node tree.Node

			if err := json.Unmarshal([]byte(args[1]), &node); err != nil {
				return fmt.Errorf("could not decode node: %w", err)
			}

			return withDataStore(cmd, opts, func(ctx context.Context, ds *datastore.DataStore) error {
				txn := ds.NewWriteOnlyTransaction()

				if merge {
					txn.Merge(path, &node)
				} else {
					txn.Write(path, &node)
				}

				cohort, err := txn.Ready()

				if err != nil {
					return err
				}

				return datastore.Commit(ctx, cohort)
			})
		},
	}

	cmd.Flags().BoolVar(&merge, "merge", false, "Merge the node into the existing subtree instead of replacing it.")

	return cmd
}

func newDeleteCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete PATH",
		Short: "Delete the subtree at PATH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := tree.ParsePath(args[0])

			if err != nil {
				return err
			}

			return withDataStore(cmd, opts, func(ctx context.Context, ds *datastore.DataStore) error {
				txn := ds.NewWriteOnlyTransaction()
				txn.Delete(path)

				cohort, err := txn.Ready()

				if err != nil {
					return err
				}

				return datastore.Commit(ctx, cohort)
			})
		},
	}
}

func newRootsCommand(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "roots",
		Short: "List the roots of the subtrees stored by each shard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDataStore(cmd, opts, func(ctx context.Context, ds *datastore.DataStore) error {
				for _, name := range ds.ShardNames() {
					s, _ := ds.Shard(name)
					roots, err := s.Roots(ctx, limit).Get(ctx)

					if err != nil {
						return err
					}

					for _, root := range roots {
						cmd.Printf("%s\t%s\n", name, root)
					}
				}

				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of roots listed per shard. 0 lists them all.")

	return cmd
}

func newExportCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "export FILE",
		Short: "Write every stored subtree to FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDataStore(cmd, opts, func(ctx context.Context, ds *datastore.DataStore) error {
				f, err := os.Create(args[0])

				if err != nil {
					return err
				}

				count, err := ds.Export(ctx, f)

				if closeErr := f.Close(); err == nil {
					err = closeErr
				}

				if err != nil {
					return err
				}

				cmd.Printf("exported %d subtrees\n", count)

				return nil
			})
		},
	}
}

func newImportCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Write every subtree of an export in one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDataStore(cmd, opts, func(ctx context.Context, ds *datastore.DataStore) error {
				f, err := os.Open(args[0])

				if err != nil {
					return err
				}

				defer f.Close()

				count, err := ds.Import(ctx, f)

				if err != nil {
					return err
				}

				cmd.Printf("imported %d subtrees\n", count)

				return nil
			})
		},
	}
}

func (opts *options) load() (*config.Config, error) {
	c := config.NewConfig()

	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)

		if err != nil {
			return nil, err
		}

		c = loaded
	}

	if opts.dataDir != "" {
		c.Storage.Plugin = "bbolt"
		c.Storage.Path = filepath.Join(opts.dataDir, databaseFile)
	}

	if opts.timeout > 0 {
		c.Shard.OperationTimeout = config.Duration(opts.timeout)
	}

	if opts.logLevel != "" {
		if err := c.Logging.Level.UnmarshalText([]byte(opts.logLevel)); err != nil {
			return nil, fmt.Errorf("could not parse log level: %w", err)
		}
	}

	return c, c.Validate()
}

func (opts *options) schema(c *config.Config) *tree.SchemaContext {
	var roots []tree.QName

	for _, namespace := range c.Namespaces() {
		roots = append(roots, tree.QName(namespace))
	}

	for _, root := range opts.roots {
		roots = append(roots, tree.QName(root))
	}

	return tree.NewSchemaContext(1, roots...)
}

// withDataStore opens the configured data store, waits for its shards
// to accept the schema and runs fn before closing it again
func withDataStore(cmd *cobra.Command, opts *options, fn func(ctx context.Context, ds *datastore.DataStore) error) error {
	c, err := opts.load()

	if err != nil {
		return err
	}

	logger, err := log.New(cmd.ErrOrStderr(), c.Logging)

	if err != nil {
		return err
	}

	defer logger.Sync()

	ds, err := datastore.Open(c, logger)

	if err != nil {
		return err
	}

	defer func() {
		if err := ds.Close(); err != nil {
			logger.Error("could not close data store", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(c.Shard.OperationTimeout))
	defer cancel()

	ds.OnGlobalContextUpdated(opts.schema(c))

	if err := ds.AwaitReady(ctx); err != nil {
		return err
	}

	return fn(ctx, ds)
}
