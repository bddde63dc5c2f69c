package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/crypto/bcrypt"
)

type config struct {
	dsn             string
	siteCount       int
	stationsPerSite int
	startDate       string
	days            int
	intervalSeconds int
	seedReadings    bool
	seedAdmin       bool
	adminEmail      string
	adminPassword   string
	seed            int64
}

type catalogueParameter struct {
	name           string
	label          string
	unit           string
	threshold      float64
	lowerBound     *float64
	monitoringType string
}

func ptr(v float64) *float64 { return &v }

var monitoringTypes = []string{"emission", "effluent", "ambient"}

var catalogue = []catalogueParameter{
	{name: "pm", label: "Particulate Matter", unit: "mg/Nm3", threshold: 50, monitoringType: "emission"},
	{name: "so2", label: "Sulphur Dioxide", unit: "mg/Nm3", threshold: 100, monitoringType: "emission"},
	{name: "nox", label: "Oxides of Nitrogen", unit: "mg/Nm3", threshold: 120, monitoringType: "emission"},
	{name: "co", label: "Carbon Monoxide", unit: "mg/Nm3", threshold: 150, monitoringType: "emission"},
	{name: "flow", label: "Stack Flow", unit: "m3/hr", threshold: 50000, monitoringType: "emission"},
	{name: "ph", label: "Effluent pH", unit: "", threshold: 8.5, lowerBound: ptr(6.5), monitoringType: "effluent"},
}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}
	if cfg.siteCount <= 0 || cfg.stationsPerSite <= 0 {
		log.Fatal("site-count and stations-per-site must be > 0")
	}
	if cfg.days <= 0 {
		log.Fatal("days must be > 0")
	}
	if cfg.intervalSeconds <= 0 {
		log.Fatal("interval-seconds must be > 0")
	}

	start, err := parseStartDate(cfg.startDate)
	if err != nil {
		log.Fatalf("invalid start-date: %v", err)
	}

	gofakeit.Seed(cfg.seed)

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	parameterIDs, err := seedCatalogue(ctx, db)
	if err != nil {
		log.Fatalf("seed parameter catalogue: %v", err)
	}
	log.Printf("seeded %d catalogue parameters", len(parameterIDs))

	siteIDs := make([]int64, 0, cfg.siteCount)
	for i := 1; i <= cfg.siteCount; i++ {
		siteID, installations, err := seedSite(ctx, db, i, cfg.stationsPerSite, cfg.intervalSeconds, parameterIDs)
		if err != nil {
			log.Fatalf("seed site %d: %v", i, err)
		}
		siteIDs = append(siteIDs, siteID)
		if cfg.seedReadings {
			if err := seedReadings(ctx, db, siteID, installations, start, cfg.days, cfg.intervalSeconds); err != nil {
				log.Fatalf("seed readings for site %d: %v", siteID, err)
			}
		}
		log.Printf("seeded site %d (%d/%d)", siteID, i, cfg.siteCount)
	}

	if cfg.seedAdmin {
		if err := seedAdmin(ctx, db, cfg.adminEmail, cfg.adminPassword, siteIDs); err != nil {
			log.Fatalf("seed admin: %v", err)
		}
		log.Printf("seeded admin user %s", cfg.adminEmail)
	}

	log.Printf("seed completed")
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.IntVar(&cfg.siteCount, "site-count", envOrInt("SITE_COUNT", 3), "number of sites to seed")
	flag.IntVar(&cfg.stationsPerSite, "stations-per-site", envOrInt("STATIONS_PER_SITE", 2), "stations per site")
	flag.StringVar(&cfg.startDate, "start-date", envOrDefault("START_DATE", ""), "start date (YYYY-MM-DD or RFC3339)")
	flag.IntVar(&cfg.days, "days", envOrInt("DAYS", 7), "number of days of readings")
	flag.IntVar(&cfg.intervalSeconds, "interval-seconds", envOrInt("INTERVAL_SECONDS", 60), "reading spacing in seconds")
	flag.BoolVar(&cfg.seedReadings, "seed-readings", envOrBool("SEED_READINGS", true), "seed sensor_data readings")
	flag.BoolVar(&cfg.seedAdmin, "seed-admin", envOrBool("SEED_ADMIN", true), "seed an admin account")
	flag.StringVar(&cfg.adminEmail, "admin-email", envOrDefault("ADMIN_EMAIL", "admin@example.com"), "admin account email")
	flag.StringVar(&cfg.adminPassword, "admin-password", envOrDefault("ADMIN_PASSWORD", "admin123"), "admin account password")
	flag.Int64Var(&cfg.seed, "seed", 11, "random seed for generated names and values")
	flag.Parse()
	return cfg
}

func parseStartDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Now().UTC().AddDate(0, 0, -7).Truncate(24 * time.Hour), nil
	}
	if strings.Contains(value, "T") {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

func seedCatalogue(ctx context.Context, db *sql.DB) (map[string]int64, error) {
	typeIDs := make(map[string]int64, len(monitoringTypes))
	for _, name := range monitoringTypes {
		var id int64
		err := db.QueryRowContext(ctx, `
INSERT INTO monitoring_types (name)
VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`, name).Scan(&id)
		if err != nil {
			return nil, err
		}
		typeIDs[name] = id
	}

	const insertSQL = `
INSERT INTO parameters (uuid, name, label, unit, min_threshold, max_threshold, monitoring_type_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (name)
DO UPDATE SET
	label = EXCLUDED.label,
	unit = EXCLUDED.unit,
	min_threshold = EXCLUDED.min_threshold,
	max_threshold = EXCLUDED.max_threshold,
	monitoring_type_id = EXCLUDED.monitoring_type_id
RETURNING id`

	ids := make(map[string]int64, len(catalogue))
	for _, p := range catalogue {
		var id int64
		if err := db.QueryRowContext(ctx, insertSQL, gofakeit.UUID(), p.name, p.label, p.unit, p.lowerBound, p.threshold, typeIDs[p.monitoringType]).Scan(&id); err != nil {
			return nil, err
		}
		ids[p.name] = id
	}
	return ids, nil
}

type installation struct {
	id        int64
	threshold float64
	interval  int
}

func seedSite(ctx context.Context, db *sql.DB, ordinal, stationCount, intervalSeconds int, parameterIDs map[string]int64) (int64, []installation, error) {
	siteUID := fmt.Sprintf("site-%04d", ordinal)
	var siteID int64
	err := db.QueryRowContext(ctx, `
INSERT INTO site (site_uid, name, address, city, state, latitude, longitude, group_name, auth_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (site_uid)
DO UPDATE SET name = EXCLUDED.name
RETURNING id`,
		siteUID,
		gofakeit.Company()+" Plant",
		gofakeit.Street(),
		gofakeit.City(),
		gofakeit.State(),
		gofakeit.Latitude(),
		gofakeit.Longitude(),
		gofakeit.Company(),
		gofakeit.Password(true, true, true, false, false, 32),
	).Scan(&siteID)
	if err != nil {
		return 0, nil, err
	}

	var installations []installation
	for s := 1; s <= stationCount; s++ {
		stationUID := fmt.Sprintf("%s-stack-%02d", siteUID, s)
		var stationID int64
		err := db.QueryRowContext(ctx, `
INSERT INTO stations (site_id, station_uid, name)
VALUES ($1, $2, $3)
ON CONFLICT (station_uid)
DO UPDATE SET name = EXCLUDED.name
RETURNING id`,
			siteID, stationUID, fmt.Sprintf("Stack %d", s),
		).Scan(&stationID)
		if err != nil {
			return 0, nil, err
		}

		for _, p := range catalogue {
			var spID int64
			err := db.QueryRowContext(ctx, `
INSERT INTO station_parameters (station_id, parameter_id, threshold, lower_bound, unit, sampling_interval_seconds, editable)
VALUES ($1, $2, $3, $4, $5, $6, true)
ON CONFLICT (station_id, parameter_id)
DO UPDATE SET threshold = EXCLUDED.threshold
RETURNING id`,
				stationID, parameterIDs[p.name], p.threshold, p.lowerBound, p.unit, intervalSeconds,
			).Scan(&spID)
			if err != nil {
				return 0, nil, err
			}
			installations = append(installations, installation{id: spID, threshold: p.threshold, interval: intervalSeconds})
		}
	}

	deviceUID := fmt.Sprintf("DL-%04d", ordinal)
	if _, err := db.ExecContext(ctx, `
INSERT INTO device (site_id, device_uid, auth_key, active)
VALUES ($1, $2, $3, true)
ON CONFLICT (device_uid)
DO UPDATE SET site_id = EXCLUDED.site_id`,
		siteID, deviceUID, gofakeit.Password(true, true, true, false, false, 32),
	); err != nil {
		return 0, nil, err
	}

	return siteID, installations, nil
}

// seedReadings inserts uniformly spaced readings jittered around 70% of the
// threshold, with the occasional spike above it so exceedance reports have
// something to show.
func seedReadings(ctx context.Context, db *sql.DB, siteID int64, installations []installation, start time.Time, days, intervalSeconds int) error {
	const insertSQL = `
INSERT INTO sensor_data (time, site_id, station_param_id, value, device_uid)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (time, station_param_id) DO NOTHING`

	deviceUID := fmt.Sprintf("DL-%04d", siteID)
	end := start.AddDate(0, 0, days)
	step := time.Duration(intervalSeconds) * time.Second

	for _, inst := range installations {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		for ts := start; ts.Before(end); ts = ts.Add(step) {
			value := gofakeit.Float64Range(inst.threshold*0.5, inst.threshold*0.9)
			if gofakeit.Number(0, 99) < 2 {
				value = gofakeit.Float64Range(inst.threshold*1.01, inst.threshold*1.3)
			}
			if _, err := stmt.ExecContext(ctx, ts, siteID, inst.id, value, deviceUID); err != nil {
				_ = stmt.Close()
				_ = tx.Rollback()
				return err
			}
		}
		if err := stmt.Close(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Printf("seeded readings for installation %d", inst.id)
	}
	return nil
}

func seedAdmin(ctx context.Context, db *sql.DB, email, password string, siteIDs []int64) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	var userID int64
	err = db.QueryRowContext(ctx, `
INSERT INTO users (email, name, password_hash, role, active)
VALUES ($1, $2, $3, 'admin', true)
ON CONFLICT (email)
DO UPDATE SET password_hash = EXCLUDED.password_hash, role = 'admin', active = true
RETURNING id`,
		strings.ToLower(email), gofakeit.Name(), string(hash),
	).Scan(&userID)
	if err != nil {
		return err
	}
	for _, siteID := range siteIDs {
		if _, err := db.ExecContext(ctx, `
INSERT INTO user_sites (user_id, site_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING`, userID, siteID); err != nil {
			return err
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envOrBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
