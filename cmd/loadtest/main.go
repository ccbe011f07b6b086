package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vladislavdragonenkov/grocer/internal/transport/httpapi"
)

type loadMode string

const (
	modeCart            loadMode = "cart"
	modeCheckout        loadMode = "checkout"
	modeCheckoutConfirm loadMode = "checkout-confirm"
)

const scenarioName = "scenario"

type config struct {
	addr           string
	total          int
	totalSet       bool
	duration       time.Duration
	concurrency    int
	timeout        time.Duration
	mode           loadMode
	users          int
	productID      int64
	quantity       int64
	allowConflicts bool
	outputPath     string
}

// latencySummary описывает распределение задержек в миллисекундах.
type latencySummary struct {
	Min float64 `json:"min_ms"`
	Avg float64 `json:"avg_ms"`
	P50 float64 `json:"p50_ms"`
	P95 float64 `json:"p95_ms"`
	P99 float64 `json:"p99_ms"`
	Max float64 `json:"max_ms"`
}

type endpointReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"ok"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"status_codes"`
	Latency   latencySummary   `json:"latency"`
}

type report struct {
	StartedAt        time.Time                 `json:"started_at"`
	Elapsed          float64                   `json:"elapsed_seconds"`
	TotalScenarios   int64                     `json:"scenarios"`
	SuccessScenarios int64                     `json:"scenarios_ok"`
	FailedScenarios  int64                     `json:"scenarios_failed"`
	Conflicts        int64                     `json:"sold_out_conflicts"`
	ErrorRate        float64                   `json:"error_rate"`
	Throughput       float64                   `json:"scenarios_per_second"`
	ScenarioLatency  latencySummary            `json:"scenario_latency"`
	Methods          map[string]endpointReport `json:"endpoints"`
}

type endpointStats struct {
	calls, success, failed int64
	codes                  map[string]int64
	latenciesMs            []float64
}

func (s *endpointStats) report() endpointReport {
	return endpointReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Codes:     maps.Clone(s.codes),
		Latency:   buildLatencySummary(s.latenciesMs),
	}
}

// collector копит результаты запросов по имени операции. Код ответа
// 0 означает сетевую ошибку.
type collector struct {
	mu        sync.Mutex
	endpoints map[string]*endpointStats
	conflicts int64
}

func newCollector() *collector {
	return &collector{endpoints: make(map[string]*endpointStats)}
}

func (c *collector) record(method string, latency time.Duration, code int, ok bool) {
	label := strconv.Itoa(code)
	if code == 0 {
		label = "transport_error"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.endpoints[method]
	if stats == nil {
		stats = &endpointStats{codes: make(map[string]int64)}
		c.endpoints[method] = stats
	}
	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[label]++
	stats.latenciesMs = append(stats.latenciesMs, float64(latency)/float64(time.Millisecond))
}

func (c *collector) recordConflict() {
	c.mu.Lock()
	c.conflicts++
	c.mu.Unlock()
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := report{
		StartedAt: startedAt.UTC(),
		Elapsed:   elapsed.Seconds(),
		Conflicts: c.conflicts,
		Methods:   make(map[string]endpointReport, len(c.endpoints)),
	}
	for name, stats := range c.endpoints {
		out.Methods[name] = stats.report()
	}
	if scenario, ok := out.Methods[scenarioName]; ok {
		out.TotalScenarios = scenario.Calls
		out.SuccessScenarios = scenario.Success
		out.FailedScenarios = scenario.Failed
		out.ErrorRate = scenario.ErrorRate
		out.ScenarioLatency = scenario.Latency
	}
	if elapsed > 0 {
		out.Throughput = float64(out.TotalScenarios) / elapsed.Seconds()
	}
	return out
}

func parseConfig(args []string) (config, error) {
	var (
		cfg           config
		modeValue     string
		timeoutValue  string
		durationValue string
	)

	flags := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	flags.StringVar(&cfg.addr, "addr", "http://localhost:8080", "grocer HTTP base URL")
	flags.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; in duration mode only used when explicitly set")
	flags.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m)")
	flags.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flags.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flags.StringVar(&modeValue, "mode", string(modeCart), "load mode: cart | checkout | checkout-confirm")
	flags.IntVar(&cfg.users, "users", 10, "number of seeded buyers (ids 1..users) to rotate")
	flags.Int64Var(&cfg.productID, "product-id", 1, "product to order")
	flags.Int64Var(&cfg.quantity, "quantity", 1, "quantity per order")
	flags.BoolVar(&cfg.allowConflicts, "allow-conflicts", false, "count 409 (sold out) as an expected outcome")
	flags.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := flags.Parse(args); err != nil {
		return cfg, err
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flags.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	if cfg.mode, err = parseMode(modeValue); err != nil {
		return cfg, err
	}
	cfg.addr = strings.TrimRight(strings.TrimSpace(cfg.addr), "/")

	switch {
	case cfg.addr == "":
		return cfg, errors.New("addr is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.users <= 0:
		return cfg, errors.New("users must be > 0")
	case cfg.productID <= 0:
		return cfg, errors.New("product-id must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCart, modeCheckout, modeCheckoutConfirm:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	startedAt := time.Now()
	col := newCollector()
	runner := &scenarioRunner{
		client: &http.Client{Timeout: cfg.timeout},
		cfg:    cfg,
		runID:  fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid()),
		col:    col,
	}
	runLoad(runner, cfg)

	result := col.buildReport(startedAt, time.Since(startedAt))
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func runLoad(runner *scenarioRunner, cfg config) int64 {
	jobs := make(chan int, cfg.concurrency*2)
	var (
		failures atomic.Int64
		wg       sync.WaitGroup
	)
	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if err := runner.run(id); err != nil {
					failures.Add(1)
				}
			}
		}()
	}
	dispatchJobs(jobs, cfg)
	wg.Wait()
	return failures.Load()
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()
	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// errConflict: товар распродан, заказ отклонён с 409.
var errConflict = errors.New("conflict")

type statusError struct {
	method string
	code   int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.method, e.code, e.body)
}

type scenarioRunner struct {
	client *http.Client
	cfg    config
	runID  string
	col    *collector
}

func (r *scenarioRunner) userID(index int) int64 {
	return int64(index%r.cfg.users) + 1
}

// run выполняет один сценарий: корзина, затем (в зависимости от режима)
// подтверждение покупателем и администратором.
func (r *scenarioRunner) run(index int) (err error) {
	start := time.Now()
	defer func() {
		ok := err == nil
		if errors.Is(err, errConflict) {
			r.col.recordConflict()
			ok = r.cfg.allowConflicts
			if ok {
				err = nil
			}
		}
		r.col.record(scenarioName, time.Since(start), 0, ok)
	}()

	userID := r.userID(index)
	var created struct {
		ID int64 `json:"id"`
	}
	path := fmt.Sprintf("/api/orders?productId=%d", r.cfg.productID)
	headers := map[string]string{
		httpapi.HeaderUserID:         strconv.FormatInt(userID, 10),
		httpapi.HeaderIdempotencyKey: fmt.Sprintf("lt-cart-%s-%d", r.runID, index),
	}
	body := map[string]any{"quantity": r.cfg.quantity}
	if err := r.call("CreateOrder", http.MethodPost, path, headers, body, http.StatusCreated, &created); err != nil {
		return err
	}
	if created.ID <= 0 {
		return errors.New("create response returned empty order id")
	}
	if r.cfg.mode == modeCart {
		return nil
	}

	checkout := map[string]any{
		"orders": []map[string]any{{"id": created.ID, "quantity": r.cfg.quantity}},
	}
	userHeaders := map[string]string{httpapi.HeaderUserID: strconv.FormatInt(userID, 10)}
	if err := r.call("ConfirmCheckout", http.MethodPatch, "/api/orders/confirm", userHeaders, checkout, http.StatusOK, nil); err != nil {
		return err
	}
	if r.cfg.mode == modeCheckout {
		return nil
	}

	adminHeaders := map[string]string{httpapi.HeaderUserRole: httpapi.RoleAdmin}
	return r.call("ConfirmOrder", http.MethodPatch, fmt.Sprintf("/api/admin/orders/%d/confirm", created.ID), adminHeaders, nil, http.StatusOK, nil)
}

func (r *scenarioRunner) call(method, httpMethod, path string, headers map[string]string, body any, want int, out any) error {
	start := time.Now()
	code, err := r.do(httpMethod, path, headers, body, want, out)
	r.col.record(method, time.Since(start), code, err == nil)
	if err != nil && code == http.StatusConflict {
		return fmt.Errorf("%s: %w", method, errConflict)
	}
	return err
}

func (r *scenarioRunner) do(httpMethod, path string, headers map[string]string, body any, want int, out any) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.timeout)
	defer cancel()

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, r.cfg.addr+path, payload)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode != want {
		return resp.StatusCode, &statusError{method: httpMethod + " " + path, code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// writeJSONReport пишет отчёт в файл внутри рабочего каталога.
func writeJSONReport(path string, result report) error {
	clean := filepath.Clean(path)
	if clean == "." || !filepath.IsLocal(clean) {
		return fmt.Errorf("report path %q must name a file inside the working directory", path)
	}
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(clean, append(raw, '\n'), 0o644)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d conflicts=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg),
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.Conflicts, result.ErrorRate)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.Elapsed, result.Throughput)
	s := result.ScenarioLatency
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		s.Min, s.Avg, s.P50, s.P95, s.P99, s.Max)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != scenarioName {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.Latency.P95)
	}
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}
	sorted := slices.Sorted(slices.Values(values))

	var total float64
	for _, v := range sorted {
		total += v
	}
	return latencySummary{
		Min: sorted[0],
		Avg: total / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
		Max: sorted[len(sorted)-1],
	}
}

// percentile интерполирует между соседними рангами отсортированной выборки.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	i := int(pos)
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(i)
	return sorted[i]*(1-frac) + sorted[i+1]*frac
}

func ratio(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}
