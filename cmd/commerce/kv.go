package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/spf13/cobra"

	"github.com/R3E-Network/commerce_layer/internal/kv"
	"github.com/R3E-Network/commerce_layer/internal/kv/backends"
	"github.com/R3E-Network/commerce_layer/internal/kv/supabase"
)

func newKVCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Read and write the configured key/value store",
		Long: `Operate directly on the store selected by KV_BACKEND.

Keys are absolute, so module records are addressed with their namespace,
for example "shipment:TRK12345678ABCD".`,
	}
	cmd.AddCommand(
		newKVGetCmd(opts),
		newKVSetCmd(opts),
		newKVDeleteCmd(opts),
		newKVScanCmd(opts),
		newKVSchemaCmd(opts),
	)
	return cmd
}

// withStore opens the configured store for the duration of fn.
func withStore(ctx context.Context, opts *rootOptions, fn func(kv.Store) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	store, err := backends.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// project applies a JSONPath expression such as "$.cost" to raw.
func project(raw json.RawMessage, path string) (interface{}, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if path == "" {
		return doc, nil
	}
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return nil, fmt.Errorf("path %s: %w", path, err)
	}
	return v, nil
}

func newKVGetCmd(opts *rootOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(store kv.Store) error {
				raw, ok, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("key %q not found", args[0])
				}
				v, err := project(raw, path)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), v)
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "JSONPath expression applied to the value (e.g. $.cost)")
	return cmd
}

func newKVSetCmd(opts *rootOptions) *cobra.Command {
	var ifAbsent bool
	cmd := &cobra.Command{
		Use:   "set <key> <json|->",
		Short: "Store a JSON value under key",
		Long:  `Store a JSON value under key. Pass "-" to read the value from stdin.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := []byte(args[1])
			if args[1] == "-" {
				var err error
				if value, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			value = []byte(strings.TrimSpace(string(value)))

			return withStore(cmd.Context(), opts, func(store kv.Store) error {
				if !ifAbsent {
					return store.Set(cmd.Context(), args[0], value)
				}
				inserted, err := store.CompareAndSet(cmd.Context(), args[0], nil, value)
				if err != nil {
					return err
				}
				if !inserted {
					return fmt.Errorf("key %q already exists", args[0])
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&ifAbsent, "if-absent", false, "fail instead of overwriting an existing key")
	return cmd
}

func newKVDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>...",
		Short: "Delete keys; missing keys are ignored",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(store kv.Store) error {
				for _, key := range args {
					if err := store.Delete(cmd.Context(), key); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newKVScanCmd(opts *rootOptions) *cobra.Command {
	var keysOnly bool
	cmd := &cobra.Command{
		Use:   "scan [prefix]",
		Short: "List entries whose key starts with prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return withStore(cmd.Context(), opts, func(store kv.Store) error {
				entries, err := store.GetByPrefix(cmd.Context(), prefix)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, e := range entries {
					if keysOnly {
						fmt.Fprintln(out, e.Key)
						continue
					}
					fmt.Fprintf(out, "%s\t%s\n", e.Key, e.Value)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&keysOnly, "keys", false, "print keys only")
	return cmd
}

func newKVSchemaCmd(opts *rootOptions) *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the SQL that prepares a Supabase project for the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if table == "" {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				table = cfg.KVTable
			}
			_, err := fmt.Fprint(cmd.OutOrStdout(), supabase.Schema(table))
			return err
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "table name (default KV_TABLE)")
	return cmd
}
