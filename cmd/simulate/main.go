package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue/internal/appointment"
	"github.com/hackgods/clinic-queue/internal/config"
	"github.com/hackgods/clinic-queue/internal/db"
	"github.com/hackgods/clinic-queue/internal/logging"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	CompleteRatio float64
	CancelRatio   float64
	ReadRatio     float64
	PatientLimit  int
	DoctorLimit   int
	Day           time.Time
	PostgresDSN   string
}

type DataPool struct {
	Patients []uuid.UUID
	Doctors  []uuid.UUID

	mu           sync.Mutex
	appointments []uuid.UUID // booked and still active as far as the simulator knows
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

// TakeAppointment removes and returns a random active appointment so two
// workers never race to close the same one.
func (dp *DataPool) TakeAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	idx := rng.Intn(len(dp.appointments))
	id := dp.appointments[idx]
	dp.appointments[idx] = dp.appointments[len(dp.appointments)-1]
	dp.appointments = dp.appointments[:len(dp.appointments)-1]
	return id, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking     OperationMetrics
	Complete    OperationMetrics
	Cancel      OperationMetrics
	ReadQueue   OperationMetrics
	DoctorQueue OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	logger := logging.New("simulate", "dev", "info")
	logger.Info().Msg("simulator starting")

	cfg := loadConfig(logger)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("complete", cfg.CompleteRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Str("day", cfg.Day.Format(appointment.DateLayout)).
		Msg("simulation config")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}

	logger.Info().Int("patients", len(dataPool.Patients)).Int("doctors", len(dataPool.Doctors)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	if err := verifyTokens(verifyCtx, pgPool, cfg.Day); err != nil {
		logger.Error().Err(err).Msg("token verification failed")
		os.Exit(1)
	}
	logger.Info().Msg("token verification passed")
}

func loadConfig(logger zerolog.Logger) SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load base config")
	}

	day := appointment.NormalizeDay(time.Now().Add(24 * time.Hour))
	if raw := os.Getenv("SIM_DATE"); raw != "" {
		parsed, err := appointment.ParseDay(raw)
		if err != nil {
			logger.Fatal().Err(err).Msg("SIM_DATE must be YYYY-MM-DD")
		}
		day = parsed
	}

	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		CompleteRatio: getFloat("SIM_COMPLETE_RATIO", 0.15),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.05),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit:  getInt("SIM_PATIENT_LIMIT", 2000),
		DoctorLimit:   getInt("SIM_DOCTOR_LIMIT", 5),
		Day:           day,
		PostgresDSN:   baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.CompleteRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CompleteRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	patients, err := loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	dataPool.Patients = patients

	// few doctors keeps many bookings contending for the same token sequence
	doctors, err := loadIDs(ctx, pool, `SELECT id FROM doctors ORDER BY created_at LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	dataPool.Doctors = doctors

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded, run cmd/seed first")
	}

	return dataPool, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CompleteRatio:
				s.doClose(ctx, rng, appointment.StatusCompleted, &s.metrics.Complete)
			case r < s.config.BookingRatio+s.config.CompleteRatio+s.config.CancelRatio:
				s.doClose(ctx, rng, appointment.StatusCancelled, &s.metrics.Cancel)
			default:
				if rng.Intn(2) == 0 {
					s.doReadQueue(ctx, rng)
				} else {
					s.doDoctorQueue(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	body, _ := json.Marshal(map[string]string{
		"doctor_id":  doctorID.String(),
		"patient_id": patientID.String(),
		"date":       s.config.Day.Format(appointment.DateLayout),
		"time":       fmt.Sprintf("%02d:%02d", 9+rng.Intn(8), rng.Intn(4)*15),
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var booked struct {
				ID uuid.UUID `json:"id"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&booked); err == nil && booked.ID != uuid.Nil {
				s.pool.AddAppointment(booked.ID)
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doClose(ctx context.Context, rng *rand.Rand, status appointment.Status, om *OperationMetrics) {
	apptID, ok := s.pool.TakeAppointment(rng)
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]string{"status": string(status)})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPatch,
		fmt.Sprintf("%s/appointments/%s/status", s.config.APIBaseURL, apptID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
	}

	om.Record(latency, success, conflict)
}

func (s *Simulator) doReadQueue(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	s.get(ctx, fmt.Sprintf("%s/appointments/%s/queue", s.config.APIBaseURL, apptID), &s.metrics.ReadQueue)
}

func (s *Simulator) doDoctorQueue(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	s.get(ctx, fmt.Sprintf("%s/doctors/%s/queue?date=%s", s.config.APIBaseURL, doctorID,
		s.config.Day.Format(appointment.DateLayout)), &s.metrics.DoctorQueue)
}

func (s *Simulator) get(ctx context.Context, url string, om *OperationMetrics) {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	om.Record(latency, success, false)
}

// verifyTokens checks that every doctor's tokens for day run 1..n with no
// gaps or repeats, whatever happened to the appointments afterwards.
func verifyTokens(ctx context.Context, pool *pgxpool.Pool, day time.Time) error {
	rows, err := pool.Query(ctx, `
		SELECT doctor_id, count(*), count(DISTINCT token_number), max(token_number)
		FROM appointments
		WHERE appt_date = $1
		GROUP BY doctor_id
	`, day)
	if err != nil {
		return fmt.Errorf("query token summary: %w", err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var (
			doctorID        uuid.UUID
			total, distinct int64
			highest         int32
		)
		if err := rows.Scan(&doctorID, &total, &distinct, &highest); err != nil {
			return err
		}
		fmt.Printf("doctor %s: %d bookings, tokens 1..%d\n", doctorID, total, highest)
		if distinct != total {
			problems = append(problems, fmt.Sprintf("doctor %s has %d duplicate tokens", doctorID, total-distinct))
		}
		if int64(highest) != total {
			problems = append(problems, fmt.Sprintf("doctor %s tokens are not contiguous: %d bookings, highest %d", doctorID, total, highest))
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Day: %s\n", s.config.Day.Format(appointment.DateLayout))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Complete", &s.metrics.Complete)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read queue", &s.metrics.ReadQueue)
	printOperationReport("Doctor queue", &s.metrics.DoctorQueue)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
