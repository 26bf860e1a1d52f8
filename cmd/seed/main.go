package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue/internal/config"
	"github.com/hackgods/clinic-queue/internal/db"
	"github.com/hackgods/clinic-queue/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("seed", "dev", "info")
		boot.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New("seed", cfg.Env, cfg.LogLevel)
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate schema")
	}

	faker := gofakeit.New(0)

	doctors := envCount("SEED_DOCTORS", 20)
	patients := envCount("SEED_PATIENTS", 2000)

	if err := seedDoctors(context.Background(), logger, pool, faker, doctors); err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(context.Background(), logger, pool, faker, patients); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	logger.Info().Msg("seed complete")
}

// mobile returns a ten digit national mobile number.
func mobile(faker *gofakeit.Faker) string {
	return faker.Numerify("9#########")
}

func seedDoctors(ctx context.Context, logger zerolog.Logger, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	logger.Info().Int("count", count).Msg("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		spec := specialties[faker.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, phone, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, uuid.New(), faker.Name(), mobile(faker), spec)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info().Msg("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, logger zerolog.Logger, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, phone, email, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), faker.Name(), mobile(faker), faker.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info().Int("seeded", end).Int("total", count).Msg("patients batch committed")
	}

	logger.Info().Msg("patients seeded")
	return nil
}

func envCount(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return def
}
