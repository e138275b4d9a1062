package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hcpcs-cli/internal/config"
	"github.com/sells-group/hcpcs-cli/internal/crawl"
	"github.com/sells-group/hcpcs-cli/internal/fetcher"
	"github.com/sells-group/hcpcs-cli/internal/loader"
	"github.com/sells-group/hcpcs-cli/internal/model"
	"github.com/sells-group/hcpcs-cli/internal/resilience"
	"github.com/sells-group/hcpcs-cli/internal/scrape"
	"github.com/sells-group/hcpcs-cli/internal/store"
)

func storeOptions(c config.StoreConfig) store.Options {
	return store.Options{
		Driver: c.Driver,
		DSN:    c.DatabaseURL,
		Pool:   &store.PoolConfig{MaxConns: c.MaxConns, MinConns: c.MinConns},
	}
}

// openStore connects to the configured backend and ensures the schema.
func openStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	st, err := store.Open(ctx, storeOptions(c))
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func newFetcher(c config.FetchConfig) *fetcher.HTTPFetcher {
	maxBackoff := time.Duration(c.MaxBackoffSecs) * time.Second
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:         c.UserAgent,
		Timeout:           time.Duration(c.TimeoutSecs) * time.Second,
		Retry:             resilience.FromRetryConfig(c.MaxAttempts, time.Second, maxBackoff),
		BlockBackoff:      resilience.Window{Min: 2 * time.Second, Max: 7 * time.Second, Cap: maxBackoff},
		ErrorBackoff:      resilience.Window{Min: time.Second, Max: 3 * time.Second, Cap: maxBackoff},
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		BreakerThreshold:  c.BreakerThreshold,
		BreakerReset:      time.Duration(c.BreakerResetSecs) * time.Second,
		MaxConnsPerHost:   c.MaxConnsPerHost,
		MaxBodyBytes:      c.MaxBodyBytes,
	})
}

func newCrawler(c *config.Config, f fetcher.Fetcher) (*crawl.Crawler, error) {
	group, err := scrape.ParseGroupPolicy(c.Policy.GroupCode)
	if err != nil {
		return nil, err
	}
	ex, err := scrape.NewExtractor(scrape.Options{
		BaseURL:        c.Crawl.BaseURL,
		CategoryPrefix: c.Crawl.CategoryPrefix,
		GroupPolicy:    group,
	})
	if err != nil {
		return nil, err
	}
	return crawl.New(f, ex, crawl.Options{
		IndexURL:      c.Crawl.IndexURL,
		CategoryPause: c.Crawl.CategoryPause(),
		Workers:       c.Crawl.Workers,
		MaxCategories: c.Crawl.MaxCategories,
		Categories:    c.Crawl.Categories,
		ProgressEvery: c.Crawl.ProgressEvery,
	}), nil
}

func newReconciler(c config.PolicyConfig, st store.Store) (*loader.Reconciler, error) {
	dup, err := loader.ParseDuplicatePolicy(c.Duplicates)
	if err != nil {
		return nil, err
	}
	var asOf model.Date
	if c.AsOf != "" {
		asOf, err = model.ParseISODate(c.AsOf)
		if err != nil {
			return nil, eris.Wrap(err, "policy.as_of")
		}
	}
	return loader.New(st, loader.Options{AsOf: asOf, Duplicates: dup}), nil
}
