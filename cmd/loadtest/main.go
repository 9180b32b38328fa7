package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Нагрузочный прогон оформления заказов через HTTP API. Помимо латентности
// инструмент считает успешные размещения: на товаре с ограниченным остатком
// их число не должно превышать остаток (проверка отсутствия oversell).

const (
	userHeader = "X-User-ID"
)

type loadMode string

const (
	modePlace       loadMode = "place"
	modePlaceCancel loadMode = "place-cancel"
)

type config struct {
	baseURL     string
	total       int
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	productID   string
	quantity    int32
	userPrefix  string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type operationReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt        time.Time                  `json:"started_at"`
	DurationSeconds  float64                    `json:"duration_seconds"`
	TotalScenarios   int64                      `json:"total_scenarios"`
	SuccessScenarios int64                      `json:"success_scenarios"`
	FailedScenarios  int64                      `json:"failed_scenarios"`
	ErrorRate        float64                    `json:"error_rate"`
	RPS              float64                    `json:"rps"`
	PlacedOrders     int64                      `json:"placed_orders"`
	Operations       map[string]operationReport `json:"operations"`
}

type operationStats struct {
	calls     int64
	success   int64
	failed    int64
	statuses  map[string]int64
	latencies []float64
}

type collector struct {
	mu         sync.Mutex
	operations map[string]*operationStats
}

func newCollector() *collector {
	return &collector{
		operations: make(map[string]*operationStats),
	}
}

func (c *collector) record(operation string, latency time.Duration, status int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, found := c.operations[operation]
	if !found {
		stats = &operationStats{
			statuses: make(map[string]int64),
		}
		c.operations[operation] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.statuses[fmt.Sprintf("%d", status)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) snapshot(name string) (operationReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.operations[name]
	if !ok {
		return operationReport{}, false
	}

	statusesCopy := make(map[string]int64, len(stats.statuses))
	for status, count := range stats.statuses {
		statusesCopy[status] = count
	}

	return operationReport{
		Calls:     stats.calls,
		Success:   stats.success,
		Failed:    stats.failed,
		ErrorRate: ratio(stats.failed, stats.calls),
		Statuses:  statusesCopy,
		LatencyMs: buildLatencySummary(append([]float64(nil), stats.latencies...)),
	}, true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration, placed int64) report {
	result := report{
		StartedAt:       startedAt,
		DurationSeconds: duration.Seconds(),
		PlacedOrders:    placed,
		Operations:      make(map[string]operationReport),
	}

	c.mu.Lock()
	names := make([]string, 0, len(c.operations))
	for name := range c.operations {
		names = append(names, name)
	}
	c.mu.Unlock()

	for _, name := range names {
		if opReport, ok := c.snapshot(name); ok {
			result.Operations[name] = opReport
		}
	}

	return result
}

func parseConfig() (config, error) {
	var cfg config
	var mode string

	flag.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "base URL of the food service")
	flag.IntVar(&cfg.total, "total", 100, "number of scenarios to run")
	flag.IntVar(&cfg.concurrency, "concurrency", 10, "number of concurrent workers")
	flag.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	flag.StringVar(&mode, "mode", string(modePlace), "scenario mode: place|place-cancel")
	flag.IntVar(&cfg.cancelRate, "cancel-rate", 50, "percentage of placed orders to cancel in place-cancel mode")
	flag.StringVar(&cfg.productID, "product", "p1", "product id to order")
	var qty int
	flag.IntVar(&qty, "qty", 1, "quantity per order")
	flag.StringVar(&cfg.userPrefix, "user-prefix", "loadtest-user", "prefix for generated user ids")
	flag.StringVar(&cfg.outputPath, "output", "", "optional path for JSON report")
	flag.Parse()

	cfg.quantity = int32(qty)

	if strings.TrimSpace(cfg.baseURL) == "" {
		return config{}, fmt.Errorf("url is required")
	}
	if cfg.total <= 0 {
		return config{}, fmt.Errorf("total must be > 0")
	}
	if cfg.concurrency <= 0 {
		return config{}, fmt.Errorf("concurrency must be > 0")
	}
	if cfg.quantity <= 0 {
		return config{}, fmt.Errorf("qty must be > 0")
	}
	if cfg.cancelRate < 0 || cfg.cancelRate > 100 {
		return config{}, fmt.Errorf("cancel-rate must be within [0..100]")
	}
	parsedMode, err := parseMode(mode)
	if err != nil {
		return config{}, err
	}
	cfg.mode = parsedMode

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.ToLower(strings.TrimSpace(value))) {
	case modePlace:
		return modePlace, nil
	case modePlaceCancel:
		return modePlaceCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s (use place|place-cancel)", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		fail("invalid arguments: %v", err)
	}

	client := &http.Client{Timeout: cfg.timeout}
	stats := newCollector()

	var (
		wg      sync.WaitGroup
		placed  int64
		success int64
		failed  int64
	)

	jobs := make(chan int)
	startedAt := time.Now()

	for worker := 0; worker < cfg.concurrency; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				if runScenario(client, cfg, index, stats, &placed) {
					atomic.AddInt64(&success, 1)
				} else {
					atomic.AddInt64(&failed, 1)
				}
			}
		}()
	}

	for i := 0; i < cfg.total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	duration := time.Since(startedAt)
	result := stats.buildReport(startedAt, duration, atomic.LoadInt64(&placed))
	result.TotalScenarios = int64(cfg.total)
	result.SuccessScenarios = atomic.LoadInt64(&success)
	result.FailedScenarios = atomic.LoadInt64(&failed)
	result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	printReport(result, cfg)

	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			fail("write report: %v", err)
		}
	}
}

// runScenario выполняет один сценарий: размещение заказа и, в зависимости
// от режима, его отмену. Возвращает true при полном успехе сценария.
func runScenario(client *http.Client, cfg config, index int, stats *collector, placed *int64) bool {
	userID := fmt.Sprintf("%s-%d", cfg.userPrefix, index%cfg.concurrency)

	orderID, ok := placeOrder(client, cfg, userID, stats)
	if !ok {
		return false
	}
	atomic.AddInt64(placed, 1)

	if cfg.mode == modePlaceCancel && shouldCancel(index, cfg.cancelRate) {
		return cancelOrder(client, cfg, userID, orderID, stats)
	}

	return true
}

func placeOrder(client *http.Client, cfg config, userID string, stats *collector) (string, bool) {
	body, _ := json.Marshal(map[string]interface{}{
		"items": []map[string]interface{}{
			{"product_id": cfg.productID, "quantity": cfg.quantity},
		},
		"shipping_address": map[string]interface{}{
			"full_name":    "Load Test",
			"phone_number": "0900000000",
			"address":      "1 Benchmark St",
			"city":         "Da Nang",
		},
	})

	status, respBody, latency, err := doRequest(client, http.MethodPost, cfg.baseURL+"/api/v1/orders", userID, body)
	ok := err == nil && status == http.StatusCreated
	stats.record("PlaceOrder", latency, status, ok)
	if !ok {
		return "", false
	}

	var resp struct {
		Order struct {
			ID string `json:"id"`
		} `json:"order"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil || resp.Order.ID == "" {
		return "", false
	}
	return resp.Order.ID, true
}

func cancelOrder(client *http.Client, cfg config, userID, orderID string, stats *collector) bool {
	body := []byte(`{"reason":"load test cleanup"}`)
	url := fmt.Sprintf("%s/api/v1/orders/%s/cancel", cfg.baseURL, orderID)

	status, _, latency, err := doRequest(client, http.MethodPost, url, userID, body)
	ok := err == nil && status == http.StatusOK
	stats.record("CancelOrder", latency, status, ok)
	return ok
}

func doRequest(client *http.Client, method, url, userID string, body []byte) (int, []byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(context.Background(), method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(userHeader, userID)

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, nil, latency, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes(), latency, nil
}

func shouldCancel(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

func writeJSONReport(path string, result report) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}
	return nil
}

func printReport(result report, cfg config) {
	fmt.Printf("target: %s mode: %s\n", cfg.baseURL, cfg.mode)
	fmt.Printf("scenarios: total=%d success=%d failed=%d error_rate=%.2f%%\n",
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate*100)
	fmt.Printf("placed orders: %d\n", result.PlacedOrders)
	fmt.Printf("rps: %.2f duration: %.2fs\n", result.RPS, result.DurationSeconds)

	names := make([]string, 0, len(result.Operations))
	for name := range result.Operations {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		op := result.Operations[name]
		fmt.Printf("%s: calls=%d success=%d failed=%d p95=%.2fms p99=%.2fms\n",
			name, op.Calls, op.Success, op.Failed, op.LatencyMs.P95, op.LatencyMs.P99)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sort.Float64s(values)

	var sum float64
	for _, v := range values {
		sum += v
	}

	return latencySummary{
		Min: values[0],
		Max: values[len(values)-1],
		Avg: sum / float64(len(values)),
		P50: percentile(values, 50),
		P95: percentile(values, 95),
		P99: percentile(values, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

func ratio(failed, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
