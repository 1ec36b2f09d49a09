package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/contractgate/contractgate/internal/logging"
)

const maxLine = 1 << 20

type Summary struct {
	Total            int            `json:"total"`
	Completed        int            `json:"completed"`
	RequestRejected  int            `json:"request_rejected"`
	ResponseRejected int            `json:"response_rejected"`
	EngineErrors     int            `json:"engine_errors"`
	Blocked          int            `json:"blocked"`
	Abandoned        int            `json:"abandoned"`
	RateLimited      int            `json:"rate_limited"`
	Start            time.Time      `json:"start"`
	End              time.Time      `json:"end"`
	TopViolations    []CountItem    `json:"top_violations"`
	TopTypes         []CountItem    `json:"top_violation_types"`
	TopRoutes        []CountItem    `json:"top_rejected_routes"`
	TopRateLimit     []CountItem    `json:"top_rate_limits"`
	Latency          LatencySummary `json:"latency"`
	Validation       LatencySummary `json:"validation_latency"`
}

type CountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type LatencySummary struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type Reader struct {
	Since time.Time
}

func (r *Reader) Read(path string) ([]logging.Decision, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return r.decode(file)
}

func (r *Reader) decode(in io.Reader) ([]logging.Decision, error) {
	var decisions []logging.Decision
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLine)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var d logging.Decision
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if !r.Since.IsZero() && d.Timestamp.Before(r.Since) {
			continue
		}
		decisions = append(decisions, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return decisions, nil
}

func Summarize(decisions []logging.Decision) Summary {
	var summary Summary
	if len(decisions) == 0 {
		return summary
	}

	summary.Start = decisions[0].Timestamp
	summary.End = decisions[0].Timestamp

	titleCounts := map[string]int{}
	typeCounts := map[string]int{}
	routeCounts := map[string]int{}
	ratelimitCounts := map[string]int{}
	latencies := make([]int64, 0, len(decisions))
	validation := make([]int64, 0, len(decisions))

	for _, d := range decisions {
		summary.Total++
		if d.Timestamp.Before(summary.Start) {
			summary.Start = d.Timestamp
		}
		if d.Timestamp.After(summary.End) {
			summary.End = d.Timestamp
		}

		switch d.Outcome {
		case logging.OutcomeCompleted:
			summary.Completed++
		case logging.OutcomeRequestRejected:
			summary.RequestRejected++
		case logging.OutcomeResponseRejected:
			summary.ResponseRejected++
		case logging.OutcomeEngineError:
			summary.EngineErrors++
		case logging.OutcomeBlocked:
			summary.Blocked++
		case logging.OutcomeAbandoned:
			summary.Abandoned++
		}

		if d.RateLimited {
			summary.RateLimited++
			ratelimitCounts[d.ClientIP]++
		}

		if v := d.Violation; v != nil {
			titleCounts[v.Title]++
			typeCounts[v.Phase+"/"+v.Type]++
			routeCounts[d.RouteID]++
		}

		latencies = append(latencies, d.DurationMS)
		if d.Outcome != logging.OutcomeBlocked {
			validation = append(validation, d.ValidationMS)
		}
	}

	summary.TopViolations = topCounts(titleCounts, 5)
	summary.TopTypes = topCounts(typeCounts, 5)
	summary.TopRoutes = topCounts(routeCounts, 5)
	summary.TopRateLimit = topCounts(ratelimitCounts, 5)
	summary.Latency = latencySummary(latencies)
	summary.Validation = latencySummary(validation)

	return summary
}

func topCounts(counts map[string]int, n int) []CountItem {
	items := make([]CountItem, 0, len(counts))
	for key, count := range counts {
		items = append(items, CountItem{Key: key, Count: count})
	}
	if len(items) == 0 {
		return nil
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Count == items[j].Count {
			return items[i].Key < items[j].Key
		}
		return items[i].Count > items[j].Count
	})

	if len(items) > n {
		items = items[:n]
	}
	return items
}

func latencySummary(values []int64) LatencySummary {
	if len(values) == 0 {
		return LatencySummary{}
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencySummary{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

func percentile(values []int64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	idx := int(float64(len(values)-1) * p)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return float64(values[idx])
}

func RenderText(summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total: %d\n", summary.Total)
	fmt.Fprintf(&b, "Completed: %d\n", summary.Completed)
	fmt.Fprintf(&b, "Request rejected: %d\n", summary.RequestRejected)
	fmt.Fprintf(&b, "Response rejected: %d\n", summary.ResponseRejected)
	fmt.Fprintf(&b, "Engine errors: %d\n", summary.EngineErrors)
	fmt.Fprintf(&b, "Blocked: %d\n", summary.Blocked)
	fmt.Fprintf(&b, "Abandoned: %d\n", summary.Abandoned)
	fmt.Fprintf(&b, "Rate limited: %d\n", summary.RateLimited)
	fmt.Fprintf(&b, "Latency p50/p95/p99 (ms): %.0f/%.0f/%.0f\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)
	fmt.Fprintf(&b, "Validation p50/p95/p99 (ms): %.0f/%.0f/%.0f\n", summary.Validation.P50, summary.Validation.P95, summary.Validation.P99)

	writeCounts(&b, "Top violations", summary.TopViolations)
	writeCounts(&b, "Top violation types", summary.TopTypes)
	writeCounts(&b, "Top rejected routes", summary.TopRoutes)
	writeCounts(&b, "Top rate-limited", summary.TopRateLimit)

	return b.String()
}

func RenderMarkdown(summary Summary) string {
	var b strings.Builder
	b.WriteString("# contractgate Report\n\n")
	b.WriteString("## Totals\n\n")
	fmt.Fprintf(&b, "- Total: %d\n", summary.Total)
	fmt.Fprintf(&b, "- Completed: %d\n", summary.Completed)
	fmt.Fprintf(&b, "- Request rejected: %d\n", summary.RequestRejected)
	fmt.Fprintf(&b, "- Response rejected: %d\n", summary.ResponseRejected)
	fmt.Fprintf(&b, "- Engine errors: %d\n", summary.EngineErrors)
	fmt.Fprintf(&b, "- Blocked: %d\n", summary.Blocked)
	fmt.Fprintf(&b, "- Abandoned: %d\n", summary.Abandoned)
	fmt.Fprintf(&b, "- Rate limited: %d\n", summary.RateLimited)
	fmt.Fprintf(&b, "- Latency p50/p95/p99 (ms): %.0f/%.0f/%.0f\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)
	fmt.Fprintf(&b, "- Validation p50/p95/p99 (ms): %.0f/%.0f/%.0f\n\n", summary.Validation.P50, summary.Validation.P95, summary.Validation.P99)

	writeCountsMarkdown(&b, "Top violations", summary.TopViolations)
	writeCountsMarkdown(&b, "Top violation types", summary.TopTypes)
	writeCountsMarkdown(&b, "Top rejected routes", summary.TopRoutes)
	writeCountsMarkdown(&b, "Top rate-limited", summary.TopRateLimit)

	return b.String()
}

func RenderJSON(summary Summary) ([]byte, error) {
	return json.MarshalIndent(summary, "", "  ")
}

func writeCounts(b *strings.Builder, title string, items []CountItem) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: none\n", title)
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
}

func writeCountsMarkdown(b *strings.Builder, title string, items []CountItem) {
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteString("\n\n")
	if len(items) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
	b.WriteString("\n")
}

func WriteOutput(w io.Writer, path string, content []byte) error {
	if path == "" {
		_, err := io.Copy(w, bytes.NewReader(content))
		return err
	}
	return os.WriteFile(path, content, 0o600)
}
