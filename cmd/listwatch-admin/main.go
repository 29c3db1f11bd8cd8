// Package main is the operator CLI for seeding and repairing the shared
// ledger: proxy loading, group definitions, seller blocks, and failed-task
// resets.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/listwatch/listwatch/internal/config"
	"github.com/listwatch/listwatch/internal/ledger"
	"github.com/listwatch/listwatch/internal/logging"
	"github.com/listwatch/listwatch/internal/monitor"
	"github.com/listwatch/listwatch/internal/urlbuild"
)

const usage = `usage: listwatch-admin <command> [flags]

commands:
  load-proxies   -config <file> -proxies <file>     add proxy endpoints to the pool
  load-groups    -config <file> -groups <file>      upsert groups and their fetch targets
  block-seller   -config <file> -seller <name>      add a seller to the global blocklist
  reset-failed   -config <file>                     return failed tasks to pending
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "load-proxies":
		err = loadProxies(ctx, os.Args[2:])
	case "load-groups":
		err = loadGroups(ctx, os.Args[2:])
	case "block-seller":
		err = blockSeller(ctx, os.Args[2:])
	case "reset-failed":
		err = resetFailed(ctx, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func openLedger(ctx context.Context, cfgPath string) (config.Config, ledger.Pool, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	pool, err := ledger.NewPool(ctx, ledger.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeSec) * time.Second,
	})
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, pool, logger, nil
}

func loadProxies(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("load-proxies", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to config file")
	proxiesPath := fs.String("proxies", "", "File with one host:port:user:pass endpoint per line")
	_ = fs.Parse(args)
	if *proxiesPath == "" {
		return fmt.Errorf("-proxies is required")
	}

	endpoints, err := readLines(*proxiesPath)
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		return fmt.Errorf("no endpoints in %s", *proxiesPath)
	}

	_, pool, logger, err := openLedger(ctx, *cfgPath)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := ledger.NewProxyStore(pool)
	if err != nil {
		return err
	}
	added, err := store.InsertProxies(ctx, endpoints)
	if err != nil {
		return err
	}
	logger.Info("proxies loaded",
		zap.Int("endpoints", len(endpoints)),
		zap.Int64("added", added))
	return nil
}

// groupDefinition is one entry in the -groups JSON file. Fetch targets come
// either from an explicit urls list or from a search block expanded into one
// URL per brand/model combination.
type groupDefinition struct {
	Name         string            `json:"name"`
	Enabled      *bool             `json:"enabled"`
	Scope        string            `json:"scope"`
	Destinations []string          `json:"destinations"`
	MinPrice     *int64            `json:"min_price"`
	MaxPrice     *int64            `json:"max_price"`
	Category     string            `json:"category"`
	URLs         []string          `json:"urls"`
	SearchQuery  string            `json:"search_query"`
	Search       *searchDefinition `json:"search"`
}

type searchDefinition struct {
	BaseURL      string              `json:"base_url"`
	Region       string              `json:"region"`
	CategoryPath string              `json:"category_path"`
	EnrichTerm   string              `json:"enrich_term"`
	Brands       []string            `json:"brands"`
	Models       map[string][]string `json:"models"`
	Params       map[string]string   `json:"params"`
}

func loadGroups(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("load-groups", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to config file")
	groupsPath := fs.String("groups", "", "JSON file with group definitions")
	_ = fs.Parse(args)
	if *groupsPath == "" {
		return fmt.Errorf("-groups is required")
	}

	raw, err := os.ReadFile(*groupsPath)
	if err != nil {
		return fmt.Errorf("read groups file: %w", err)
	}
	var defs []groupDefinition
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("parse groups file: %w", err)
	}
	if len(defs) == 0 {
		return fmt.Errorf("no groups in %s", *groupsPath)
	}

	cfg, pool, logger, err := openLedger(ctx, *cfgPath)
	if err != nil {
		return err
	}
	defer pool.Close()

	groupStore, err := ledger.NewGroupStore(pool)
	if err != nil {
		return err
	}
	taskStore, err := ledger.NewTaskStore(pool, cfg.Worker.MaxTaskAttempts)
	if err != nil {
		return err
	}

	for _, def := range defs {
		enabled := true
		if def.Enabled != nil {
			enabled = *def.Enabled
		}
		g := monitor.Group{
			Name:         def.Name,
			Enabled:      enabled,
			Scope:        monitor.BlocklistScope(def.Scope),
			Destinations: def.Destinations,
			MinPrice:     def.MinPrice,
			MaxPrice:     def.MaxPrice,
			Category:     def.Category,
		}
		if err := groupStore.Upsert(ctx, g); err != nil {
			return fmt.Errorf("upsert group %q: %w", def.Name, err)
		}
		targets := def.URLs
		if len(targets) == 0 && def.Search != nil {
			targets, err = urlbuild.TaskURLs(urlbuild.Search{
				BaseURL:      def.Search.BaseURL,
				Region:       def.Search.Region,
				CategoryPath: def.Search.CategoryPath,
				EnrichTerm:   def.Search.EnrichTerm,
				Brands:       def.Search.Brands,
				Models:       def.Search.Models,
				Params:       def.Search.Params,
			})
			if err != nil {
				return fmt.Errorf("expand search for group %q: %w", def.Name, err)
			}
		}
		if len(targets) == 0 {
			logger.Warn("group has no fetch targets", zap.String("group", def.Name))
			continue
		}
		added, err := taskStore.InsertTasks(ctx, def.Name, targets, def.SearchQuery)
		if err != nil {
			return fmt.Errorf("seed tasks for group %q: %w", def.Name, err)
		}
		logger.Info("group loaded",
			zap.String("group", def.Name),
			zap.Int("targets", len(targets)),
			zap.Int64("tasks_added", added))
	}
	return nil
}

func blockSeller(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("block-seller", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to config file")
	seller := fs.String("seller", "", "Seller name to block globally")
	_ = fs.Parse(args)
	if strings.TrimSpace(*seller) == "" {
		return fmt.Errorf("-seller is required")
	}

	_, pool, logger, err := openLedger(ctx, *cfgPath)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := ledger.NewSuppressionStore(pool)
	if err != nil {
		return err
	}
	if err := store.BlockSeller(ctx, *seller); err != nil {
		return err
	}
	logger.Info("seller blocked", zap.String("seller", *seller))
	return nil
}

func resetFailed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset-failed", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, pool, logger, err := openLedger(ctx, *cfgPath)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := ledger.NewTaskStore(pool, cfg.Worker.MaxTaskAttempts)
	if err != nil {
		return err
	}
	n, err := store.ResetFailed(ctx)
	if err != nil {
		return err
	}
	logger.Info("failed tasks reset", zap.Int64("tasks", n))
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return lines, nil
}
