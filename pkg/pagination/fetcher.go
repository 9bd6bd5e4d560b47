package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/endpoint-etl/pkg/client"
	"github.com/Sternrassler/endpoint-etl/pkg/document"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	etlPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_pages_fetched_total",
		Help: "Pages fetched by endpoint",
	}, []string{"endpoint"})

	etlDocumentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_documents_fetched_total",
		Help: "Documents emitted by endpoint",
	}, []string{"endpoint"})

	etlSequencesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_sequences_total",
		Help: "Finished page sequences by endpoint and stop reason",
	}, []string{"endpoint", "stop"})
)

// Defaults for the page envelope.
const (
	DefaultResultsField = "results"
	DefaultNextField    = "next"
)

// ErrProtocol marks a response that does not follow the pagination envelope.
var ErrProtocol = errors.New("pagination protocol error")

// ErrStop may be returned by an emit callback to end a sequence early
// without failing it. The documents passed to that call count as emitted.
var ErrStop = errors.New("stop requested")

// ProtocolError describes what was wrong with a page.
type ProtocolError struct {
	URL    string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v: %s (%s)", ErrProtocol, e.Reason, e.URL)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

// StopReason explains why a sequence ended.
type StopReason string

const (
	StopExhausted      StopReason = "exhausted"
	StopMaxPages       StopReason = "max_pages"
	StopClientError    StopReason = "client_error"
	StopRetryExhausted StopReason = "retry_exhausted"
	StopProtocol       StopReason = "protocol"
	StopCancelled      StopReason = "cancelled"
	StopEmit           StopReason = "emit_failed"
	StopRequested      StopReason = "requested"
)

// PageFetcher is the interface the HTTP client implements for single-page fetching
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
}

// Config holds fetcher configuration
type Config struct {
	// BaseURL is used to resolve root-relative next links
	BaseURL string

	// ResultsField and NextField name the envelope members
	ResultsField string
	NextField    string

	// PageDelay is slept between successive pages of one sequence
	PageDelay time.Duration

	// MaxPages stops a sequence after this many pages; 0 means unlimited
	MaxPages int
}

// DefaultConfig returns the default configuration
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		ResultsField: DefaultResultsField,
		NextField:    DefaultNextField,
		PageDelay:    300 * time.Millisecond,
	}
}

// Sequence identifies one paginated walk.
type Sequence struct {
	EndpointKey string
	Year        int
	URL         string
}

// Summary is the outcome of a sequence. Documents already emitted are never
// taken back, whatever the stop reason.
type Summary struct {
	Pages     int
	Documents int
	Skipped   int
	Stop      StopReason
	Err       error
	Duration  time.Duration
}

// Failed reports whether the sequence ended on an error.
func (s Summary) Failed() bool {
	return s.Err != nil
}

// EmitFunc receives the documents of one page, in page order.
type EmitFunc func(ctx context.Context, docs []*document.Object) error

// Fetcher walks page sequences.
type Fetcher struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a new fetcher
func NewFetcher(fetcher PageFetcher, config Config) *Fetcher {
	if config.ResultsField == "" {
		config.ResultsField = DefaultResultsField
	}
	if config.NextField == "" {
		config.NextField = DefaultNextField
	}
	if config.PageDelay < 0 {
		config.PageDelay = 0
	}

	return &Fetcher{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "pagination").Logger(),
		sleep:   sleepCtx,
	}
}

// Fetch walks seq from its first URL until the cursor runs out, calling emit
// once per page. Pages are strictly sequential. Failures stop the walk and
// are reported in the summary, never returned.
func (f *Fetcher) Fetch(ctx context.Context, seq Sequence, emit EmitFunc) Summary {
	start := time.Now()
	logger := f.logger.With().Str("endpoint", seq.EndpointKey).Int("year", seq.Year).Logger()

	var sum Summary
	finish := func(stop StopReason, err error) Summary {
		sum.Stop = stop
		sum.Err = err
		sum.Duration = time.Since(start)
		etlSequencesTotal.WithLabelValues(seq.EndpointKey, string(stop)).Inc()

		ev := logger.Info()
		if err != nil {
			ev = logger.Error().Err(err)
		}
		ev.Int("pages", sum.Pages).
			Int("documents", sum.Documents).
			Str("stop", string(stop)).
			Dur("duration", sum.Duration).
			Msg("Sequence finished")
		return sum
	}

	current := seq.URL
	visited := map[string]struct{}{current: {}}
	for current != "" {
		if ctx.Err() != nil {
			return finish(StopCancelled, nil)
		}

		body, err := f.fetcher.FetchPage(ctx, current)
		if err != nil {
			stop := classifyFetchError(ctx, err)
			switch stop {
			case StopCancelled:
				return finish(stop, nil)
			case StopProtocol:
				return finish(stop, &ProtocolError{URL: current, Reason: err.Error()})
			}
			return finish(stop, err)
		}

		docs, next, skipped, err := f.decodePage(body, current)
		if err != nil {
			return finish(StopProtocol, err)
		}
		sum.Pages++
		sum.Skipped += skipped
		etlPagesTotal.WithLabelValues(seq.EndpointKey).Inc()

		if skipped > 0 {
			logger.Warn().Int("page", sum.Pages).Int("skipped", skipped).Msg("Dropped non-object results")
		}

		// emit runs for empty pages too so callers can stop between pages
		if err := emit(ctx, docs); err != nil {
			if errors.Is(err, ErrStop) {
				sum.Documents += len(docs)
				return finish(StopRequested, nil)
			}
			if ctx.Err() != nil {
				return finish(StopCancelled, nil)
			}
			return finish(StopEmit, err)
		}
		sum.Documents += len(docs)
		etlDocumentsTotal.WithLabelValues(seq.EndpointKey).Add(float64(len(docs)))

		if sum.Pages == 1 {
			logger.Info().Int("page", 1).Int("records", len(docs)).Msg("First page fetched")
		} else {
			logger.Debug().Int("page", sum.Pages).Int("records", len(docs)).Int("cumulative", sum.Documents).Msg("Page fetched")
		}

		if next == "" {
			break
		}
		if f.config.MaxPages > 0 && sum.Pages >= f.config.MaxPages {
			return finish(StopMaxPages, nil)
		}
		resolved, err := f.resolveNext(current, next)
		if err != nil {
			return finish(StopProtocol, err)
		}
		if resolved == current {
			return finish(StopProtocol, &ProtocolError{URL: current, Reason: "next link points to the current page"})
		}
		if _, seen := visited[resolved]; seen {
			return finish(StopProtocol, &ProtocolError{URL: current, Reason: "next link revisits " + resolved})
		}
		visited[resolved] = struct{}{}
		current = resolved

		if err := f.sleep(ctx, f.config.PageDelay); err != nil {
			return finish(StopCancelled, nil)
		}
	}

	return finish(StopExhausted, nil)
}

func classifyFetchError(ctx context.Context, err error) StopReason {
	switch {
	case errors.Is(err, client.ErrContextCancelled), ctx.Err() != nil:
		return StopCancelled
	case errors.Is(err, client.ErrUnexpectedNotModified):
		return StopProtocol
	case client.IsTerminal(err):
		return StopClientError
	default:
		return StopRetryExhausted
	}
}

// decodePage extracts the result documents and the raw next link.
func (f *Fetcher) decodePage(body []byte, pageURL string) ([]*document.Object, string, int, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, "", 0, &ProtocolError{URL: pageURL, Reason: "body is not a JSON object: " + err.Error()}
	}

	var docs []*document.Object
	skipped := 0
	if raw, ok := envelope[f.config.ResultsField]; ok && string(raw) != "null" {
		v, err := document.Decode(raw)
		if err != nil {
			return nil, "", 0, &ProtocolError{URL: pageURL, Reason: "results: " + err.Error()}
		}
		if v.Kind() != document.KindArray {
			return nil, "", 0, &ProtocolError{URL: pageURL, Reason: fmt.Sprintf("%q is %s, not a list", f.config.ResultsField, v.Kind())}
		}
		for _, item := range v.Items() {
			if obj := item.Object(); obj != nil {
				docs = append(docs, obj)
			} else {
				skipped++
			}
		}
	}

	next := ""
	if raw, ok := envelope[f.config.NextField]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &next); err != nil {
			return nil, "", 0, &ProtocolError{URL: pageURL, Reason: fmt.Sprintf("%q is not a string", f.config.NextField)}
		}
	}

	return docs, strings.TrimSpace(next), skipped, nil
}

// resolveNext turns a next link into an absolute URL: absolute links are
// used as-is, query-only links resolve against the current page and other
// relative links are joined onto the base URL.
func (f *Fetcher) resolveNext(current, next string) (string, error) {
	u, err := url.Parse(next)
	if err != nil {
		return "", &ProtocolError{URL: current, Reason: "unparseable next link: " + next}
	}
	if u.IsAbs() {
		if u.Host == "" {
			return "", &ProtocolError{URL: current, Reason: "next link has no host: " + next}
		}
		return next, nil
	}

	if strings.HasPrefix(next, "?") {
		cur, err := url.Parse(current)
		if err != nil {
			return "", &ProtocolError{URL: current, Reason: "unparseable current url"}
		}
		return cur.ResolveReference(u).String(), nil
	}

	base := f.config.BaseURL
	if base == "" {
		cur, err := url.Parse(current)
		if err != nil {
			return "", &ProtocolError{URL: current, Reason: "unparseable current url"}
		}
		return cur.ResolveReference(u).String(), nil
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(next, "/"), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
