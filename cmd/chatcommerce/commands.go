package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/chatcommerce/internal/api"
	"github.com/kalambet/chatcommerce/internal/chat"
	"github.com/kalambet/chatcommerce/internal/config"
	"github.com/kalambet/chatcommerce/internal/persist"
	"github.com/kalambet/chatcommerce/internal/storage"
	"github.com/kalambet/chatcommerce/internal/validator"
)

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the shopping tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		// stdout carries the protocol; keep logs on stderr.
		setupLogging(cfg.Log.Level)

		ctx := cmd.Context()
		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		a.recoverJobs()
		worker := persist.NewWorker(a.store, a.sink, 500*time.Millisecond)
		workerCtx, stopWorker := context.WithCancel(ctx)
		go worker.Run(workerCtx)
		defer func() {
			stopWorker()
			drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			worker.Drain(drainCtx)
		}()

		stdio := server.NewStdioServer(api.NewMCPServer(a.registry, version))
		if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp stdio server: %w", err)
		}
		return nil
	},
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate <url>...",
	Short: "Check URLs against the marketplace product page rules",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		v, err := validator.Load(cfg.Validator.RulesFile)
		if err != nil {
			return err
		}
		if rejected := printValidation(cmd.OutOrStdout(), v, args); rejected > 0 {
			return fmt.Errorf("%d of %d URLs rejected", rejected, len(args))
		}
		return nil
	},
}

// printValidation prints one verdict per URL and returns how many were
// rejected.
func printValidation(w io.Writer, v *validator.Validator, urls []string) int {
	rejected := 0
	for _, u := range urls {
		ok, reason := v.Check(u)
		if ok {
			fmt.Fprintf(w, "%s %s (%s)\n", colorize(colorGreen, "✓"), u, v.Marketplace(u))
			continue
		}
		rejected++
		fmt.Fprintf(w, "%s %s: %s\n", colorize(colorRed, "✗"), u, reason)
	}
	return rejected
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the marketplaces and list product page URLs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("max")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)
		svc, err := buildWeb(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Search.Timeout*time.Duration(cfg.Retry.MaxAttempts+1))
		defer cancel()
		results := svc.Search(ctx, strings.Join(args, " "), n)
		if len(results) == 0 {
			fmt.Println("No product pages found.")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%s %s\n", colorize(colorBold, fmt.Sprintf("%d.", i+1)), r.Title)
			fmt.Printf("   %s\n", colorize(colorCyan, r.URL))
			if r.Snippet != "" {
				fmt.Printf("   %s\n", truncate(r.Snippet, 160))
			}
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("max", 5, "maximum number of results (1-10)")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one message to the running server and stream the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"messages": []map[string]string{{"role": "user", "content": strings.Join(args, " ")}},
		}
		resp, err := client.post(cmd.Context(), "/api/chat", body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			return decodeJSON(resp, nil)
		}
		defer resp.Body.Close()

		return readStream(resp.Body, func(ev chat.Event) {
			printEvent(os.Stdout, ev)
		})
	},
}

// readStream decodes server-sent chat events until the [DONE] marker.
func readStream(r io.Reader, onEvent func(chat.Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			return nil
		}
		var ev chat.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decoding event: %w", err)
		}
		onEvent(ev)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return errors.New("stream ended without [DONE]")
}

func printEvent(w io.Writer, ev chat.Event) {
	switch ev.Type {
	case chat.EventText:
		fmt.Fprint(w, ev.Delta)
	case chat.EventTool:
		fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+ev.Name))
	case chat.EventProducts:
		for _, p := range ev.Products {
			fmt.Fprintf(w, "  %s %s %s\n", colorize(colorBold, p.Name), p.Price, colorize(colorCyan, p.URL))
		}
	case chat.EventError:
		fmt.Fprintln(w)
		printError("%s", ev.Message)
	case chat.EventFinish:
		fmt.Fprintln(w)
	}
}

// --- records ---

var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "List recent chat queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		var queries []storage.Query
		if err := listRecords(cmd, "/api/queries", &queries); err != nil {
			return err
		}
		if len(queries) == 0 {
			fmt.Println("No queries found.")
			return nil
		}
		for _, q := range queries {
			status := colorize(colorGreen, "ok")
			if q.Error != "" {
				status = colorize(colorRed, "error")
			}
			fmt.Printf("%s  %s  %5dms  %s  %s\n",
				colorize(colorCyan, shortID(q.ID)),
				q.CreatedAt.Format(time.RFC3339),
				q.LatencyMS,
				status,
				truncate(q.Query, 80),
			)
		}
		return nil
	},
}

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "List captured leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		var leads []storage.Lead
		if err := listRecords(cmd, "/api/leads", &leads); err != nil {
			return err
		}
		if len(leads) == 0 {
			fmt.Println("No leads found.")
			return nil
		}
		for _, l := range leads {
			fmt.Printf("%s  %s  %s  %s\n",
				colorize(colorCyan, shortID(l.ID)),
				l.CreatedAt.Format(time.RFC3339),
				l.Phone,
				l.Name,
			)
		}
		return nil
	},
}

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "List recently shown products",
	RunE: func(cmd *cobra.Command, args []string) error {
		var products []storage.Product
		if err := listRecords(cmd, "/api/products", &products); err != nil {
			return err
		}
		if len(products) == 0 {
			fmt.Println("No products found.")
			return nil
		}
		for _, p := range products {
			price := p.Price
			if price == "" {
				price = "-"
			}
			fmt.Printf("%s  %-12s  %s\n   %s\n",
				colorize(colorCyan, shortID(p.ID)),
				price,
				truncate(p.Name, 80),
				p.URL,
			)
		}
		return nil
	},
}

func listRecords(cmd *cobra.Command, path string, v any) error {
	limit, _ := cmd.Flags().GetInt("limit")

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	if err := client.requireToken(); err != nil {
		return err
	}

	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	resp, err := client.get(cmd.Context(), path+"?"+q.Encode())
	if err != nil {
		return err
	}
	return decodeJSON(resp, v)
}

func init() {
	for _, c := range []*cobra.Command{queriesCmd, leadsCmd, productsCmd} {
		c.Flags().Int("limit", storage.DefaultListLimit, "maximum number of records to list")
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return config.ValidKeys(), cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
