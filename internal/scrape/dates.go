package scrape

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"go.uber.org/zap"

	"github.com/sells-group/hcpcs-cli/internal/model"
)

// blankDates are placeholder values the catalog uses for "no date".
var blankDates = map[string]bool{
	"":     true,
	"-":    true,
	"--":   true,
	"n/a":  true,
	"na":   true,
	"none": true,
	"null": true,
}

// ParseDate parses a human-written date ("01/01/2020", "January 1, 2020",
// "2020-01-01", ...) into a calendar date. It returns nil for blanks and
// anything it cannot parse; it never panics.
func ParseDate(s string) (d *model.Date) {
	s = CleanText(s)
	if blankDates[strings.ToLower(s)] {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			zap.L().Debug("scrape: date parser panicked", zap.String("value", s), zap.Any("panic", r))
			d = nil
		}
	}()

	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		zap.L().Debug("scrape: unparseable date", zap.String("value", s), zap.Error(err))
		return nil
	}
	date := model.NewDate(t)
	return &date
}
