// README: Benchmark cases covering environment, ride lifecycle, accept races, consistency and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"rebeca/internal/infra"
	"rebeca/migrations"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

// Pickup point every bench ride starts from; drivers are placed south of it.
const (
	originLat = -23.5505
	originLng = -46.6333
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// Flow state shared by consecutive cases.
	drivers []string
	rideID  string
	winner  string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := infra.NewDB(ctx, r.cfg.DSN, int32(r.cfg.Concurrency)+2); err == nil {
			r.db = db
		} else {
			fmt.Printf("db unavailable: %v\n", err)
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func pass(note string, args ...any) Result {
	return Result{Status: StatusPass, Note: fmt.Sprintf(note, args...)}
}

func fail(note string, args ...any) Result {
	return Result{Status: StatusFail, Note: fmt.Sprintf(note, args...)}
}

func skip(note string) Result {
	return Result{Status: StatusSkip, Note: note}
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return skip("dsn not configured")
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return fail("%v", err)
			}
			return pass("")
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return skip("redis not configured")
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return fail("%v", err)
			}
			return pass("")
		}},
		{Name: "Migration: apply (optional)", Run: func(ctx context.Context, r *Runner) Result {
			if !r.cfg.ApplyMigration {
				return skip("apply-migration=false")
			}
			if r.db == nil {
				return fail("db not configured")
			}
			if err := infra.Migrate(ctx, r.db); err != nil {
				return fail("%v", err)
			}
			return pass("")
		}},
		{Name: "Migration: tables exist", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return skip("db not configured")
			}
			tables, err := extractTables()
			if err != nil {
				return fail("%v", err)
			}
			for _, t := range tables {
				var exists bool
				err := r.db.QueryRow(ctx,
					"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
				).Scan(&exists)
				if err != nil {
					return fail("%v", err)
				}
				if !exists {
					return fail("missing table: %s", t)
				}
			}
			return pass("%d tables", len(tables))
		}},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			return expect(r.call(ctx, http.MethodGet, "/health", nil), http.StatusOK)
		}},
		{Name: "API: master dashboard", Run: func(ctx context.Context, r *Runner) Result {
			var o struct {
				Tenants    int `json:"tenants"`
				RidesTotal int `json:"rides_total"`
			}
			if res := decodeAs(r.call(ctx, http.MethodGet, "/api/master/dashboard", nil), http.StatusOK, &o); res.Status != StatusPass {
				return res
			}
			return pass("%d tenants, %d rides", o.Tenants, o.RidesTotal)
		}},
		{Name: "Setup: register online drivers", Run: setupDrivers},
		{Name: "Dispatch: candidates ordered by distance", Run: checkCandidates},
		{Name: "Pricing: daytime quote uses default tariff", Run: func(ctx context.Context, r *Runner) Result {
			res := r.call(ctx, http.MethodPost, "/api/pricing/quote", map[string]any{
				"distance_km": 10, "duration_min": 20, "at": "2026-03-02T14:00:00-03:00",
			})
			var q struct {
				Total struct {
					Cents int64 `json:"amount_cents"`
				} `json:"total"`
			}
			if out := decodeAs(res, http.StatusOK, &q); out.Status != StatusPass {
				return out
			}
			if q.Total.Cents != 4000 {
				return fail("total=%d want 4000", q.Total.Cents)
			}
			return pass("total=%d", q.Total.Cents)
		}},
		{Name: "Pricing: negative distance -> 400", Run: func(ctx context.Context, r *Runner) Result {
			return expect(r.call(ctx, http.MethodPost, "/api/pricing/quote", map[string]any{"distance_km": -1, "duration_min": 5}), http.StatusBadRequest)
		}},
		{Name: "Ride: create (pending)", Run: func(ctx context.Context, r *Runner) Result {
			id, res := r.createRide(ctx)
			if res.Status != StatusPass {
				return res
			}
			r.rideID = id
			return res
		}},
		{Name: "Ride: invalid payment -> 400", Run: func(ctx context.Context, r *Runner) Result {
			body := rideBody()
			body["payment_method"] = "barter"
			return expect(r.call(ctx, http.MethodPost, "/api/rides", body), http.StatusBadRequest)
		}},
		{Name: "Concurrency: many drivers accept one ride", Run: acceptRace},
		{Name: "Ride: start by another driver -> 403", Run: func(ctx context.Context, r *Runner) Result {
			other := r.otherDriver()
			if r.rideID == "" || other == "" {
				return skip("needs a raced ride and two drivers")
			}
			return expect(r.call(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/start", map[string]any{"driver_id": other}), http.StatusForbidden)
		}},
		{Name: "Ride: start", Run: func(ctx context.Context, r *Runner) Result {
			if r.winner == "" {
				return skip("no accepted ride")
			}
			return expect(r.call(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/start", map[string]any{"driver_id": r.winner}), http.StatusOK)
		}},
		{Name: "Ride: finish", Run: func(ctx context.Context, r *Runner) Result {
			if r.winner == "" {
				return skip("no accepted ride")
			}
			return expect(r.call(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/finish", map[string]any{"driver_id": r.winner}), http.StatusOK)
		}},
		{Name: "Ride: finished cannot transition", Run: func(ctx context.Context, r *Runner) Result {
			if r.winner == "" {
				return skip("no accepted ride")
			}
			return expect(r.call(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/cancel", map[string]any{"actor_type": "client", "actor_id": "bench-client"}), http.StatusConflict)
		}},
		{Name: "Settlement: one ledger entry", Run: func(ctx context.Context, r *Runner) Result {
			if r.winner == "" {
				return skip("no finished ride")
			}
			return expect(r.call(ctx, http.MethodGet, "/api/rides/"+r.rideID+"/transaction", nil), http.StatusOK)
		}},
		{Name: "Consistency: status_version matches audit trail", Run: checkConsistency},
		{Name: "Dispatch: offers recorded (optional)", Run: func(ctx context.Context, r *Runner) Result {
			if r.rideID == "" {
				return skip("no ride")
			}
			var out struct {
				Drivers []string `json:"drivers"`
			}
			if res := decodeAs(r.call(ctx, http.MethodGet, "/api/rides/"+r.rideID+"/offers", nil), http.StatusOK, &out); res.Status != StatusPass {
				return res
			}
			if len(out.Drivers) == 0 {
				return skip("dispatch.record_offers disabled")
			}
			return pass("offered=%d", len(out.Drivers))
		}},
		{Name: "Concurrency: accept vs cancel", Run: acceptVsCancel},
		{Name: "Perf: driver location throughput", Run: func(ctx context.Context, r *Runner) Result {
			if len(r.drivers) == 0 {
				return skip("no drivers")
			}
			return perfLoad(ctx, r, http.MethodPut, "/api/drivers/"+r.drivers[0]+"/location", map[string]any{"lat": originLat, "lng": originLng})
		}},
		{Name: "Perf: fare quote throughput", Run: func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, http.MethodPost, "/api/pricing/quote", map[string]any{"distance_km": 7.5, "duration_min": 18})
		}},
	}
}

type response struct {
	code    int
	body    []byte
	latency time.Duration
	err     error
}

func (r *Runner) call(ctx context.Context, method, path string, body any) response {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return response{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", r.cfg.Tenant)
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return response{err: err}
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return response{code: resp.StatusCode, body: b, latency: time.Since(start), err: err}
}

func expect(res response, want int) Result {
	if res.err != nil {
		return fail("%v", res.err)
	}
	out := Result{Status: StatusPass, Latency: res.latency, Note: fmt.Sprintf("status=%d", res.code)}
	if res.code != want {
		out.Status = StatusFail
		out.Note = fmt.Sprintf("status=%d want %d: %s", res.code, want, bytes.TrimSpace(res.body))
	}
	return out
}

func decodeAs(res response, want int, v any) Result {
	out := expect(res, want)
	if out.Status != StatusPass {
		return out
	}
	if err := json.Unmarshal(res.body, v); err != nil {
		return fail("decode: %v", err)
	}
	return out
}

func rideBody() map[string]any {
	return map[string]any{
		"client_id":      "bench-client",
		"origin":         map[string]any{"address": "Praca da Se, Sao Paulo", "lat": originLat, "lng": originLng},
		"destination":    map[string]any{"address": "Av. Paulista 1000, Sao Paulo", "lat": -23.5614, "lng": -46.6559},
		"distance_km":    10,
		"duration_min":   20,
		"payment_method": "pix",
	}
}

func (r *Runner) createRide(ctx context.Context) (string, Result) {
	var ride struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	res := decodeAs(r.call(ctx, http.MethodPost, "/api/rides", rideBody()), http.StatusCreated, &ride)
	if res.Status != StatusPass {
		return "", res
	}
	if ride.Status != "pending" {
		return "", fail("status=%s want pending (are drivers online?)", ride.Status)
	}
	return ride.ID, res
}

func (r *Runner) otherDriver() string {
	for _, d := range r.drivers {
		if d != r.winner {
			return d
		}
	}
	return ""
}

func setupDrivers(ctx context.Context, r *Runner) Result {
	n := r.cfg.Concurrency
	if n < 2 {
		n = 2
	}
	for i := 0; i < n; i++ {
		var d struct {
			ID string `json:"id"`
		}
		res := decodeAs(r.call(ctx, http.MethodPost, "/api/drivers", map[string]any{"name": fmt.Sprintf("bench driver %d", i)}), http.StatusCreated, &d)
		if res.Status != StatusPass {
			return res
		}
		loc := map[string]any{"lat": originLat - float64(i+1)*0.001, "lng": originLng}
		if res := expect(r.call(ctx, http.MethodPut, "/api/drivers/"+d.ID+"/location", loc), http.StatusOK); res.Status != StatusPass {
			return res
		}
		if res := expect(r.call(ctx, http.MethodPut, "/api/drivers/"+d.ID+"/availability", map[string]any{"online": true}), http.StatusOK); res.Status != StatusPass {
			return res
		}
		r.drivers = append(r.drivers, d.ID)
	}
	return pass("drivers=%d tenant=%s", len(r.drivers), r.cfg.Tenant)
}

func checkCandidates(ctx context.Context, r *Runner) Result {
	if len(r.drivers) == 0 {
		return skip("no drivers")
	}
	var out struct {
		Candidates []struct {
			Driver struct {
				ID string `json:"id"`
			} `json:"driver"`
			DistanceKm float64 `json:"distance_km"`
		} `json:"candidates"`
	}
	path := fmt.Sprintf("/api/dispatch/candidates?lat=%f&lng=%f&limit=3", originLat, originLng)
	res := decodeAs(r.call(ctx, http.MethodGet, path, nil), http.StatusOK, &out)
	if res.Status != StatusPass {
		return res
	}
	want := 3
	if len(r.drivers) < want {
		want = len(r.drivers)
	}
	if len(out.Candidates) != want {
		return fail("candidates=%d want %d", len(out.Candidates), want)
	}
	if out.Candidates[0].Driver.ID != r.drivers[0] {
		return fail("nearest=%s want %s", out.Candidates[0].Driver.ID, r.drivers[0])
	}
	for i := 1; i < len(out.Candidates); i++ {
		if out.Candidates[i-1].DistanceKm > out.Candidates[i].DistanceKm {
			return fail("candidates not sorted by distance")
		}
	}
	return res
}

// acceptRace sends one accept per registered driver at the same instant.
// Exactly one must win; every other caller must see 409.
func acceptRace(ctx context.Context, r *Runner) Result {
	if r.rideID == "" || len(r.drivers) < 2 {
		return skip("needs a pending ride and two drivers")
	}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []string
		conflict int
		other    []int
	)
	start := make(chan struct{})
	began := time.Now()
	for _, id := range r.drivers {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			<-start
			res := r.call(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/accept", map[string]any{"driver_id": driverID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case res.err != nil:
				other = append(other, 0)
			case res.code == http.StatusOK:
				winners = append(winners, driverID)
			case res.code == http.StatusConflict:
				conflict++
			default:
				other = append(other, res.code)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	out := Result{Latency: time.Since(began), Note: fmt.Sprintf("success=%d conflict=%d other=%v", len(winners), conflict, other)}
	if len(winners) != 1 || conflict != len(r.drivers)-1 {
		out.Status = StatusFail
		return out
	}
	r.winner = winners[0]
	out.Status = StatusPass
	return out
}

func checkConsistency(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return skip("db not configured")
	}
	if r.winner == "" {
		return skip("no finished ride")
	}
	var version, events, txns int
	err := r.db.QueryRow(ctx, `
		SELECT r.status_version,
		       (SELECT COUNT(*) FROM ride_events e WHERE e.ride_id = r.id),
		       (SELECT COUNT(*) FROM transactions t WHERE t.ride_id = r.id)
		FROM rides r WHERE r.id = $1`, r.rideID).Scan(&version, &events, &txns)
	if err != nil {
		return fail("%v", err)
	}
	if version != 3 || events != version+1 || txns != 1 {
		return fail("status_version=%d events=%d transactions=%d", version, events, txns)
	}
	return pass("status_version=%d events=%d", version, events)
}

// acceptVsCancel races an accept against a client cancel. Cancel is legal
// both before and after accept, so the ride must end cancelled with the
// driver back online.
func acceptVsCancel(ctx context.Context, r *Runner) Result {
	if r.winner == "" {
		return skip("no free driver")
	}
	id, res := r.createRide(ctx)
	if res.Status != StatusPass {
		return res
	}
	var wg sync.WaitGroup
	start := make(chan struct{})
	codes := make([]int, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		codes[0] = r.call(ctx, http.MethodPost, "/api/rides/"+id+"/accept", map[string]any{"driver_id": r.winner}).code
	}()
	go func() {
		defer wg.Done()
		<-start
		codes[1] = r.call(ctx, http.MethodPost, "/api/rides/"+id+"/cancel", map[string]any{"actor_type": "client", "actor_id": "bench-client", "reason": "bench"}).code
	}()
	close(start)
	wg.Wait()

	var ride struct {
		Status string `json:"status"`
	}
	if res := decodeAs(r.call(ctx, http.MethodGet, "/api/rides/"+id, nil), http.StatusOK, &ride); res.Status != StatusPass {
		return res
	}
	var drv struct {
		Status string `json:"status"`
	}
	if res := decodeAs(r.call(ctx, http.MethodGet, "/api/drivers/"+r.winner, nil), http.StatusOK, &drv); res.Status != StatusPass {
		return res
	}
	note := fmt.Sprintf("accept=%d cancel=%d ride=%s driver=%s", codes[0], codes[1], ride.Status, drv.Status)
	if codes[1] != http.StatusOK || ride.Status != "cancelled" || drv.Status != "online" {
		return fail("%s", note)
	}
	return pass("%s", note)
}

func perfLoad(ctx context.Context, r *Runner, method, path string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount, non2xx int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				res := r.call(ctx, method, path, payload)
				mu.Lock()
				switch {
				case res.err != nil:
					errCount++
				case res.code >= 300:
					non2xx++
				default:
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return fail("no requests completed (errors=%d non2xx=%d)", errCount, non2xx)
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return pass("rps=%.1f errors=%d non2xx=%d", rps, errCount, non2xx)
}

var createTableRe = regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)

func extractTables() ([]string, error) {
	b, err := migrations.FS.ReadFile("0001_init.sql")
	if err != nil {
		return nil, err
	}
	matches := createTableRe.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}
