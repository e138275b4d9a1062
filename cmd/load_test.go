package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hcpcs-cli/internal/artifact"
	"github.com/sells-group/hcpcs-cli/internal/model"
)

func record(seq int, code, long, eff string) model.ScrapedRecord {
	return model.ScrapedRecord{
		CodeStub: model.CodeStub{
			GroupCode: code[:1], CategoryName: code[:1] + " Codes", HCPCSCode: code, Seq: seq,
		},
		CodeDetail: model.CodeDetail{LongDescription: long, EffectiveDate: model.DatePtr(eff)},
		ScrapedAt:  time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestLoadFiles_AppliesInOrder(t *testing.T) {
	c := testConfig(t)
	st, err := openStore(context.Background(), c.Store)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	dir := c.Artifact.Dir
	first, err := artifact.Write(dir, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), artifact.JSON, []model.ScrapedRecord{
		record(0, "A0001", "Ambulance service", "2021-01-01"),
		record(1, "J0120", "Tetracyclin injection", "2021-01-01"),
	})
	require.NoError(t, err)
	second, err := artifact.Write(dir, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), artifact.YAML, []model.ScrapedRecord{
		record(0, "A0001", "Ambulance service, revised", "2023-07-01"),
		record(1, "J0120", "Tetracyclin injection", "2021-01-01"),
	})
	require.NoError(t, err)

	paths, err := artifact.List(dir)
	require.NoError(t, err)
	require.Equal(t, []string{first, second}, paths)

	rec, err := newReconciler(c.Policy, st)
	require.NoError(t, err)
	reports, err := loadFiles(context.Background(), rec, paths)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, model.LoadReport{Inserted: 2}, reports[0])
	assert.Equal(t, model.LoadReport{Inserted: 1, Closed: 1, Unchanged: 1}, reports[1])

	history, err := st.History(context.Background(), "A0001")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.DatePtr("2023-07-01"), history[0].EndDate)

	var buf bytes.Buffer
	printLoadReports(&buf, paths, reports)
	assert.Contains(t, buf.String(), filepath.Base(second))
	assert.Contains(t, buf.String(), "Total")
}

func TestLoadFiles_StopsAtBadArtifact(t *testing.T) {
	c := testConfig(t)
	st, err := openStore(context.Background(), c.Store)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	good, err := artifact.Write(c.Artifact.Dir, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), artifact.JSON,
		[]model.ScrapedRecord{record(0, "A0001", "Ambulance service", "2021-01-01")})
	require.NoError(t, err)
	bad := filepath.Join(c.Artifact.Dir, "hcpcs_20240201T000000Z.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))

	rec, err := newReconciler(c.Policy, st)
	require.NoError(t, err)
	reports, err := loadFiles(context.Background(), rec, []string{good, bad})
	require.Error(t, err)
	assert.Len(t, reports, 1)
}

func TestPendingArtifacts_SkipsLoaded(t *testing.T) {
	c := testConfig(t)
	ctx := context.Background()
	st, err := openStore(ctx, c.Store)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	dir := c.Artifact.Dir
	older, err := artifact.Write(dir, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), artifact.JSON,
		[]model.ScrapedRecord{record(0, "A0001", "Ambulance service", "2021-01-01")})
	require.NoError(t, err)
	newer, err := artifact.Write(dir, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), artifact.JSON,
		[]model.ScrapedRecord{record(0, "A0001", "Ambulance service, revised", "2023-07-01")})
	require.NoError(t, err)

	all, err := artifact.List(dir)
	require.NoError(t, err)
	pending, err := pendingArtifacts(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, []string{older, newer}, pending)

	rec, err := newReconciler(c.Policy, st)
	require.NoError(t, err)
	_, err = loadFiles(ctx, rec, pending)
	require.NoError(t, err)

	pending, err = pendingArtifacts(ctx, st, all)
	require.NoError(t, err)
	assert.Empty(t, pending)

	latest, err := artifact.Write(dir, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), artifact.JSON,
		[]model.ScrapedRecord{record(0, "A0001", "Ambulance service, revised", "2023-07-01")})
	require.NoError(t, err)
	all, err = artifact.List(dir)
	require.NoError(t, err)
	pending, err = pendingArtifacts(ctx, st, all)
	require.NoError(t, err)
	assert.Equal(t, []string{latest}, pending)
}

func TestLoadFiles_ReplayingOlderArtifactIsNoop(t *testing.T) {
	c := testConfig(t)
	ctx := context.Background()
	st, err := openStore(ctx, c.Store)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	dir := c.Artifact.Dir
	older, err := artifact.Write(dir, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), artifact.JSON,
		[]model.ScrapedRecord{record(0, "A0001", "Ambulance service", "2021-01-01")})
	require.NoError(t, err)
	newer, err := artifact.Write(dir, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), artifact.JSON,
		[]model.ScrapedRecord{record(0, "A0001", "Ambulance service, revised", "2023-07-01")})
	require.NoError(t, err)

	rec, err := newReconciler(c.Policy, st)
	require.NoError(t, err)
	_, err = loadFiles(ctx, rec, []string{older, newer})
	require.NoError(t, err)

	reports, err := loadFiles(ctx, rec, []string{older, newer})
	require.NoError(t, err)
	assert.Equal(t, []model.LoadReport{{Unchanged: 1}, {Unchanged: 1}}, reports)

	history, err := st.History(ctx, "A0001")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.DatePtr("2023-07-01"), history[0].EndDate)
	assert.Nil(t, history[1].EndDate)
}

func TestNewReconciler_Policy(t *testing.T) {
	c := testConfig(t)
	st, err := openStore(context.Background(), c.Store)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	c.Policy.Duplicates = "newest"
	_, err = newReconciler(c.Policy, st)
	assert.Error(t, err)

	c.Policy.Duplicates = "dedupe"
	c.Policy.AsOf = "15/03/2024"
	_, err = newReconciler(c.Policy, st)
	assert.Error(t, err)

	c.Policy.AsOf = "2024-03-15"
	_, err = newReconciler(c.Policy, st)
	assert.NoError(t, err)
}

func TestStoreOptions(t *testing.T) {
	c := testConfig(t)
	c.Store.MaxConns = 8
	c.Store.MinConns = 2

	opts := storeOptions(c.Store)
	assert.Equal(t, "sqlite", opts.Driver)
	assert.Equal(t, c.Store.DatabaseURL, opts.DSN)
	require.NotNil(t, opts.Pool)
	assert.Equal(t, int32(8), opts.Pool.MaxConns)
	assert.Equal(t, int32(2), opts.Pool.MinConns)
}

// catalogHandler serves a one-category catalog with two codes.
func catalogHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/Codes", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/Codes/A">A Codes</a></body></html>`)
	})
	mux.HandleFunc("/Codes/A", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><table><tbody>
<tr><td><a href="/Codes/A/A0001">A0001</a></td><td>Ambulance</td></tr>
<tr><td><a href="/Codes/A/A0021">A0021</a></td><td>Outside state</td></tr>
</tbody></table></body></html>`)
	})
	mux.HandleFunc("/Codes/A/{code}", func(w http.ResponseWriter, r *http.Request) {
		code := r.PathValue("code")
		fmt.Fprintf(w, `<html><body><h1>Long %s</h1><table>
<tr><th>Effective Date</th><td>01/01/2020</td></tr>
</table></body></html>`, code)
	})
	return mux
}

func TestCrawlThenLoad(t *testing.T) {
	srv := httptest.NewServer(catalogHandler())
	defer srv.Close()

	c := testConfig(t)
	c.Crawl.BaseURL = srv.URL
	require.NoError(t, c.Validate("run"))

	res, path, err := crawlToArtifact(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Categories)
	assert.Equal(t, 2, res.Stubs)
	assert.Zero(t, res.Errors)
	assert.Equal(t, c.Artifact.Dir, filepath.Dir(path))

	records, err := artifact.Read(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Long A0001", records[0].LongDescription)

	st, err := openStore(context.Background(), c.Store)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	rec, err := newReconciler(c.Policy, st)
	require.NoError(t, err)

	reports, err := loadFiles(context.Background(), rec, []string{path})
	require.NoError(t, err)
	assert.Equal(t, []model.LoadReport{{Inserted: 2}}, reports)

	var buf bytes.Buffer
	printCrawlSummary(&buf, res, path)
	assert.Contains(t, buf.String(), filepath.Base(path))
}
