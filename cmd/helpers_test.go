package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/hcpcs-cli/internal/config"
	"github.com/sells-group/hcpcs-cli/internal/model"
	"github.com/sells-group/hcpcs-cli/internal/store"
)

// testConfig returns defaults pointing at a temp sqlite file and artifact dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	c := &config.Config{}
	c.Crawl.BaseURL = "https://www.hcpcsdata.com"
	c.Crawl.CategoryPrefix = "/Codes/"
	c.Crawl.Workers = 4
	c.Crawl.ProgressEvery = 100
	c.Fetch.TimeoutSecs = 5
	c.Fetch.MaxAttempts = 1
	c.Policy.GroupCode = "category"
	c.Policy.Duplicates = "last_wins"
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(dir, "hcpcs.db")
	c.Artifact.Dir = filepath.Join(dir, "data")
	c.Artifact.Format = "json"
	c.Server.Port = 8080
	c.Log.Level = "info"
	c.Log.Format = "json"
	return c
}

// seededStore opens the config's store and inserts a small history:
// A0001 with two versions, A0021 and J0120 open.
func seededStore(t *testing.T, c *config.Config) store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := openStore(ctx, c.Store)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	row := func(code, long, eff string) model.CodeRow {
		return model.CodeRow{
			GroupCode: code[:1], CategoryName: code[:1] + " Codes", HCPCSCode: code,
			LongDescription: long, EffectiveDate: model.DatePtr(eff),
		}
	}
	require.NoError(t, st.Apply(ctx, model.LoadPlan{Inserts: []model.CodeRow{
		row("A0001", "Ambulance service", "2021-01-01"),
		row("A0021", "Outside state ambulance", "2022-06-01"),
		row("J0120", "Tetracyclin injection", "2023-02-01"),
	}}))
	open, err := st.OpenRows(ctx, []string{"A0001"})
	require.NoError(t, err)
	require.NoError(t, st.Apply(ctx, model.LoadPlan{
		Closures: []model.Closure{{ID: open["A0001"][0].ID, Code: "A0001", EndDate: model.MustDate("2023-07-01")}},
		Inserts:  []model.CodeRow{row("A0001", "Ambulance service, revised", "2023-07-01")},
	}))
	return st
}
