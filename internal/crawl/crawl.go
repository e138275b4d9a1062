// Package crawl drives the three-tier catalog traversal: category index,
// sequential category listings, then a bounded concurrent fan-out over code
// detail pages.
package crawl

import (
	"context"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/hcpcs-cli/internal/fetcher"
	"github.com/sells-group/hcpcs-cli/internal/model"
	"github.com/sells-group/hcpcs-cli/internal/resilience"
	"github.com/sells-group/hcpcs-cli/internal/scrape"
)

// State is a crawl lifecycle stage.
type State string

const (
	StateStart              State = "start"
	StateFetchingCategories State = "fetching_categories"
	StateFetchingListing    State = "fetching_listing"
	StateFanOut             State = "fan_out"
	StateAggregating        State = "aggregating"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

const (
	// DefaultWorkers is the detail fan-out width.
	DefaultWorkers = 20
	// DefaultCategoryPause separates consecutive listing requests.
	DefaultCategoryPause = time.Second
	// DefaultProgressEvery is how often the aggregator logs progress.
	DefaultProgressEvery = 100
	// DefaultIndexPath is the category index path under the site base.
	DefaultIndexPath = "/Codes"
)

// Options configures a Crawler.
type Options struct {
	// IndexURL is the category index page. Empty means DefaultIndexPath
	// under the extractor's base.
	IndexURL      string
	CategoryPause time.Duration
	Workers       int

	// MaxCategories caps how many categories are crawled. Zero means all.
	MaxCategories int
	// Categories restricts the crawl to categories matching by name or by
	// final path segment (the group letter on the public site).
	Categories []string

	ProgressEvery int

	// OnState observes lifecycle transitions.
	OnState func(State)

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Result is the outcome of a completed crawl.
type Result struct {
	RunID             string                `json:"run_id"`
	StartedAt         time.Time             `json:"started_at"`
	FinishedAt        time.Time             `json:"finished_at"`
	Categories        int                   `json:"categories"`
	SkippedCategories int                   `json:"skipped_categories"`
	Stubs             int                   `json:"stubs"`
	Errors            int                   `json:"errors"`
	Records           []model.ScrapedRecord `json:"-"`
}

// Duration is the wall time of the crawl.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Crawler runs catalog crawls. A Crawler may be reused; runs share nothing
// but the fetcher.
type Crawler struct {
	fetch   fetcher.Fetcher
	extract *scrape.Extractor
	opts    Options
}

// New creates a Crawler.
func New(f fetcher.Fetcher, ex *scrape.Extractor, opts Options) *Crawler {
	if opts.IndexURL == "" {
		opts.IndexURL = ex.Base().JoinPath(DefaultIndexPath).String()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.CategoryPause < 0 {
		opts.CategoryPause = 0
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = resilience.SleepContext
	}
	return &Crawler{fetch: f, extract: ex, opts: opts}
}

// Run performs one crawl. Only an unusable category index, or cancellation,
// fails the run; listing and detail failures are recorded and skipped.
func (c *Crawler) Run(ctx context.Context) (res *Result, err error) {
	res = &Result{RunID: uuid.NewString(), StartedAt: c.opts.Now().UTC()}
	log := zap.L().With(zap.String("component", "crawl"), zap.String("run_id", res.RunID))

	c.setState(StateStart)
	defer func() {
		if err != nil {
			c.setState(StateFailed)
			log.Error("crawl failed", zap.Error(err))
		}
	}()

	c.setState(StateFetchingCategories)
	cats, err := c.categories(ctx)
	if err != nil {
		return nil, err
	}
	res.Categories = len(cats)
	log.Info("categories discovered", zap.Int("count", len(cats)), zap.String("index", c.opts.IndexURL))

	c.setState(StateFetchingListing)
	stubs, skipped, err := c.listings(ctx, cats, log)
	if err != nil {
		return nil, err
	}
	res.SkippedCategories = skipped
	res.Stubs = len(stubs)
	log.Info("listings fetched", zap.Int("stubs", len(stubs)), zap.Int("skipped_categories", skipped))

	c.setState(StateFanOut)
	records, err := c.details(ctx, stubs, log)
	if err != nil {
		return nil, err
	}

	c.setState(StateAggregating)
	sort.SliceStable(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	for _, r := range records {
		if r.Failed() {
			res.Errors++
		}
	}
	res.Records = records
	res.FinishedAt = c.opts.Now().UTC()

	c.setState(StateDone)
	log.Info("crawl complete",
		zap.Int("records", len(records)),
		zap.Int("errors", res.Errors),
		zap.Duration("elapsed", res.Duration()),
	)
	return res, nil
}

func (c *Crawler) setState(s State) {
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

func (c *Crawler) categories(ctx context.Context) ([]model.CategoryRef, error) {
	html, err := c.fetch.Fetch(ctx, c.opts.IndexURL)
	if err != nil {
		return nil, eris.Wrap(err, "crawl: fetch category index")
	}
	cats, err := c.extract.Categories(html)
	if err != nil {
		return nil, eris.Wrap(err, "crawl: parse category index")
	}
	if len(cats) == 0 {
		return nil, eris.Errorf("crawl: no categories found at %s", c.opts.IndexURL)
	}

	cats = filterCategories(cats, c.opts.Categories)
	if len(cats) == 0 {
		return nil, eris.Errorf("crawl: no categories match filter %v", c.opts.Categories)
	}
	if c.opts.MaxCategories > 0 && len(cats) > c.opts.MaxCategories {
		cats = cats[:c.opts.MaxCategories]
	}
	return cats, nil
}

// listings fetches category pages one at a time and numbers the stubs in
// global document order.
func (c *Crawler) listings(ctx context.Context, cats []model.CategoryRef, log *zap.Logger) ([]model.CodeStub, int, error) {
	var (
		stubs   []model.CodeStub
		skipped int
	)
	for i, cat := range cats {
		if i > 0 && c.opts.CategoryPause > 0 {
			if err := c.opts.Sleep(ctx, c.opts.CategoryPause); err != nil {
				return nil, 0, eris.Wrap(err, "crawl: listings")
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, 0, eris.Wrap(err, "crawl: listings")
		}

		log.Info("fetching category",
			zap.Int("index", i+1),
			zap.Int("total", len(cats)),
			zap.String("category", cat.Name),
		)
		html, err := c.fetch.Fetch(ctx, cat.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, eris.Wrap(ctx.Err(), "crawl: listings")
			}
			skipped++
			log.Warn("skipping category", zap.String("category", cat.Name), zap.String("url", cat.URL), zap.Error(err))
			continue
		}

		for _, stub := range c.extract.Listing(html, cat.Name) {
			stub.Seq = len(stubs)
			stubs = append(stubs, stub)
		}
	}
	return stubs, skipped, nil
}

// details fans the stubs out to a fixed worker pool. Workers only send on the
// results channel; this goroutine is the sole owner of the collected records.
func (c *Crawler) details(ctx context.Context, stubs []model.CodeStub, log *zap.Logger) ([]model.ScrapedRecord, error) {
	jobs := make(chan model.CodeStub)
	results := make(chan model.ScrapedRecord, c.opts.Workers)

	var producer errgroup.Group
	producer.Go(func() error {
		defer close(jobs)
		for _, stub := range stubs {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case jobs <- stub:
			}
		}
		return nil
	})

	// In-flight fetches finish on their own timeout after cancellation.
	fetchCtx := context.WithoutCancel(ctx)

	var workers errgroup.Group
	for range c.opts.Workers {
		workers.Go(func() error {
			for stub := range jobs {
				results <- c.detail(fetchCtx, stub)
			}
			return nil
		})
	}
	go func() {
		_ = workers.Wait()
		close(results)
	}()

	records := make([]model.ScrapedRecord, 0, len(stubs))
	failed := 0
	for rec := range results {
		records = append(records, rec)
		if rec.Failed() {
			failed++
		}
		if len(records)%c.opts.ProgressEvery == 0 {
			log.Info("detail progress",
				zap.Int("done", len(records)),
				zap.Int("total", len(stubs)),
				zap.Int("errors", failed),
			)
		}
	}

	if err := producer.Wait(); err != nil {
		return nil, eris.Wrap(err, "crawl: details")
	}
	return records, nil
}

func (c *Crawler) detail(ctx context.Context, stub model.CodeStub) model.ScrapedRecord {
	rec := model.ScrapedRecord{CodeStub: stub}
	html, err := c.fetch.Fetch(ctx, stub.DetailURL)
	rec.ScrapedAt = c.opts.Now().UTC()
	if err != nil {
		rec.FetchError = err.Error()
		zap.L().Debug("detail fetch failed",
			zap.String("component", "crawl"),
			zap.String("code", stub.HCPCSCode),
			zap.Error(err),
		)
		return rec
	}
	rec.CodeDetail = c.extract.Detail(html)
	return rec
}

func filterCategories(cats []model.CategoryRef, filter []string) []model.CategoryRef {
	if len(filter) == 0 {
		return cats
	}
	var out []model.CategoryRef
	for _, cat := range cats {
		for _, f := range filter {
			f = strings.TrimSpace(f)
			if f != "" && (strings.EqualFold(cat.Name, f) || strings.EqualFold(segment(cat.URL), f)) {
				out = append(out, cat)
				break
			}
		}
	}
	return out
}

func segment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return path.Base(strings.TrimRight(u.Path, "/"))
}
