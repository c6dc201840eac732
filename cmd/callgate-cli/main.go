// Package main provides the callgate-cli command-line tool: config
// validation, one-shot resilient calls, and admin queries against a running
// callgated instance.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wbigno/resilientcall"
	"github.com/wbigno/resilientcall/internal/version"
)

var (
	flagConfig    string
	flagMethod    string
	flagBody      string
	flagHeaders   []string
	flagTimeoutMs int
	flagRetries   int
	flagParseMode string
	flagUseCache  bool

	flagServer string
	flagToken  string
	flagOrigin string
)

func main() {
	root := &cobra.Command{
		Use:           "callgate-cli",
		Short:         "Command line tool for the resilient call layer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newValidateCmd(),
		newCallCmd(),
		newCircuitsCmd(),
		newCacheCmd(),
		newLogsCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := resilientcall.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := resilientcall.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("validation: %w", err)
			}

			fmt.Println("✓ Config is valid")
			fmt.Printf("  Timeout:     %dms\n", cfg.TimeoutMs)
			fmt.Printf("  Max retries: %d\n", cfg.MaxRetries)
			if cfg.Cache.MaxEntries > 0 {
				fmt.Printf("  Cache:       %d entries, %dms TTL\n", cfg.Cache.MaxEntries, cfg.Cache.DefaultTTLMs)
			}
			if cfg.Auth != nil {
				fmt.Printf("  Auth:        client credentials via %s\n", cfg.Auth.TokenURL)
			}
			return nil
		},
	}
}

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <url>",
		Short: "Perform a one-shot resilient call and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := resilientcall.Config{}
			if flagConfig != "" {
				loaded, err := resilientcall.LoadConfig(flagConfig)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				cfg = *loaded
			}

			client, err := resilientcall.New(cfg)
			if err != nil {
				return fmt.Errorf("creating client: %w", err)
			}

			headers := make(map[string]string, len(flagHeaders))
			for _, h := range flagHeaders {
				name, value, ok := splitHeader(h)
				if !ok {
					return fmt.Errorf("invalid header %q: want Name: Value", h)
				}
				headers[name] = value
			}

			req := resilientcall.Request{
				URL:     args[0],
				Method:  flagMethod,
				Headers: headers,
				Options: &resilientcall.CallOptions{
					Timeout:    time.Duration(flagTimeoutMs) * time.Millisecond,
					MaxRetries: flagRetries,
					UseCache:   flagUseCache,
					ParseMode:  resilientcall.ParseMode(flagParseMode),
				},
			}
			if flagBody != "" {
				req.Body = flagBody
			}

			res, err := client.Do(cmd.Context(), req)
			if err != nil {
				return err
			}
			if raw, ok := res.Payload.([]byte); ok {
				res.Payload = string(raw)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVar(&flagConfig, "config", "", "config file for client defaults")
	cmd.Flags().StringVarP(&flagMethod, "method", "X", "GET", "HTTP method")
	cmd.Flags().StringVarP(&flagBody, "data", "d", "", "request body")
	cmd.Flags().StringArrayVarP(&flagHeaders, "header", "H", nil, "request header (Name: Value), repeatable")
	cmd.Flags().IntVar(&flagTimeoutMs, "timeout-ms", 0, "per-attempt timeout override")
	cmd.Flags().IntVar(&flagRetries, "retries", 0, "max retries (negative disables)")
	cmd.Flags().StringVar(&flagParseMode, "parse", "json", "payload parse mode: raw, text, or json")
	cmd.Flags().BoolVar(&flagUseCache, "cache", false, "serve from / store into the response cache")
	return cmd
}

func newCircuitsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "circuits",
		Short: "Inspect circuit breakers on a running callgated",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/admin/circuits"
			if flagOrigin != "" {
				path += "?origin=" + flagOrigin
			}
			return adminGet(cmd.Context(), path)
		},
	}
	cmd.Flags().StringVar(&flagOrigin, "origin", "", "limit to one origin")
	addServerFlags(cmd)

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Reset circuit breakers to closed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/admin/circuits/reset"
			if flagOrigin != "" {
				path += "?origin=" + flagOrigin
			}
			return adminDo(cmd.Context(), http.MethodPost, path)
		},
	}
	reset.Flags().StringVar(&flagOrigin, "origin", "", "limit to one origin")
	addServerFlags(reset)
	cmd.AddCommand(reset)

	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the response cache on a running callgated",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return adminGet(cmd.Context(), "/admin/cache")
		},
	}
	addServerFlags(cmd)

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Clear the response cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return adminDo(cmd.Context(), http.MethodDelete, "/admin/cache")
		},
	}
	addServerFlags(clear)
	cmd.AddCommand(clear)

	return cmd
}

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List recent call log entries from a running callgated",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/admin/logs"
			if flagOrigin != "" {
				path += "?origin=" + flagOrigin
			}
			return adminGet(cmd.Context(), path)
		},
	}
	cmd.Flags().StringVar(&flagOrigin, "origin", "", "filter by origin")
	addServerFlags(cmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("callgate-cli %s\n", version.String())
		},
	}
}

func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagServer, "server", "http://localhost:8080", "callgated base URL")
	cmd.Flags().StringVar(&flagToken, "token", "", "admin bearer token (or CALLGATE_ADMIN_TOKEN)")
}

func adminGet(ctx context.Context, path string) error {
	return adminDo(ctx, http.MethodGet, path)
}

func adminDo(ctx context.Context, method, path string) error {
	token := flagToken
	if token == "" {
		token = os.Getenv("CALLGATE_ADMIN_TOKEN")
	}
	if token == "" {
		return fmt.Errorf("admin token required: pass --token or set CALLGATE_ADMIN_TOKEN")
	}

	req, err := http.NewRequestWithContext(ctx, method, flagServer+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("contacting %s: %w", flagServer, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server answered %d: %s", resp.StatusCode, string(body))
	}

	fmt.Println(string(body))
	return nil
}

func splitHeader(h string) (name, value string, ok bool) {
	for i := 0; i < len(h); i++ {
		if h[i] == ':' {
			name = h[:i]
			value = h[i+1:]
			for len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
			return name, value, name != ""
		}
	}
	return "", "", false
}
