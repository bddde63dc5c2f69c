package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	aggregation "cems-cloud/internal/aggregation"
	aggpg "cems-cloud/internal/aggregation/infrastructure/postgres"
	alertapp "cems-cloud/internal/alerts/application"
	alertrepo "cems-cloud/internal/alerts/infrastructure/postgres"
	alerthttp "cems-cloud/internal/alerts/interfaces/http"
	alertnotify "cems-cloud/internal/alerts/notify"
	"cems-cloud/internal/audit"
	"cems-cloud/internal/auth"
	calibrationapp "cems-cloud/internal/calibration/application"
	calibrationmqtt "cems-cloud/internal/calibration/infrastructure/mqtt"
	calibrationrepo "cems-cloud/internal/calibration/infrastructure/postgres"
	calibrationhttp "cems-cloud/internal/calibration/interfaces/http"
	dashboardapp "cems-cloud/internal/dashboard/application"
	dashboardhttp "cems-cloud/internal/dashboard/interfaces/http"
	identityapp "cems-cloud/internal/identity/application"
	identityrepo "cems-cloud/internal/identity/infrastructure/postgres"
	identityhttp "cems-cloud/internal/identity/interfaces/http"
	masterapp "cems-cloud/internal/masterdata/application"
	masterdata "cems-cloud/internal/masterdata/domain"
	masterrepo "cems-cloud/internal/masterdata/infrastructure/postgres"
	masterhttp "cems-cloud/internal/masterdata/interfaces/http"
	"cems-cloud/internal/observability/metrics"
	reportsapp "cems-cloud/internal/reports/application"
	reportshttp "cems-cloud/internal/reports/interfaces/http"
	telemetryrepo "cems-cloud/internal/telemetry/infrastructure/postgres"
	telemetryhttp "cems-cloud/internal/telemetry/interfaces/http"

	"github.com/gorilla/handlers"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	aggCfg, err := aggregation.LoadConfig()
	if err != nil {
		logger.Fatalf("aggregation config error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	siteRepo := masterrepo.NewSiteRepository(db)
	stationRepo := masterrepo.NewStationRepository(db)
	parameterRepo := masterrepo.NewParameterRepository(db)
	stationParamRepo := masterrepo.NewStationParameterRepository(db)
	deviceRepo := masterrepo.NewDeviceRepository(db)
	timeseries := aggpg.NewTimeseriesQuery(db, aggCfg.Location())

	masterService, err := masterapp.NewService(
		siteRepo, stationRepo, parameterRepo, stationParamRepo, deviceRepo, auditRepo, logger,
		masterapp.WithStationChecker(auth.NewStationChecker(db)),
	)
	if err != nil {
		logger.Fatalf("masterdata service error: %v", err)
	}
	masterHandler, err := masterhttp.NewHandler(masterService)
	if err != nil {
		logger.Fatalf("masterdata handler error: %v", err)
	}

	userRepo := identityrepo.NewUserRepository(db)
	identityService, err := identityapp.NewService(userRepo, []byte(cfg.JWTSecret), cfg.TokenTTL, logger)
	if err != nil {
		logger.Fatalf("identity service error: %v", err)
	}
	loginHandler := identityhttp.NewLoginHandler(identityService)

	alertBroker := alerthttp.NewSSEBroker()
	alertNotifiers := []alertapp.Notifier{alertBroker}
	if cfg.AlertWebhookURL != "" {
		webhook, err := alertnotify.NewWebhookNotifier(cfg.AlertWebhookURL, logger)
		if err != nil {
			logger.Fatalf("alert webhook error: %v", err)
		}
		alertNotifiers = append(alertNotifiers, webhook)
	}
	alertService, err := alertapp.NewService(
		alertrepo.NewAlertRepository(db),
		stationParamRepo,
		alertnotify.NewMultiNotifier(alertNotifiers...),
		logger,
		alertapp.WithCooldown(cfg.AlertCooldown),
	)
	if err != nil {
		logger.Fatalf("alert service error: %v", err)
	}
	alertHandler, err := alerthttp.NewHandler(alertService)
	if err != nil {
		logger.Fatalf("alert handler error: %v", err)
	}

	ingestHandler, err := telemetryhttp.NewIngestHandler(telemetryrepo.NewReadingRepository(db), deviceRepo, alertService, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}

	var calibrationPublisher calibrationapp.Publisher
	if cfg.MQTTBrokerURL != "" {
		mqttPublisher, err := calibrationmqtt.NewPublisher(calibrationmqtt.Config{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
		})
		if err != nil {
			logger.Fatalf("mqtt publisher error: %v", err)
		}
		defer mqttPublisher.Close()
		calibrationPublisher = mqttPublisher
	} else {
		logger.Printf("MQTT_BROKER_URL not set, calibration pushes disabled")
	}
	calibrationService, err := calibrationapp.NewService(stationRepo, deviceRepo, calibrationrepo.NewHistoryRepository(db), calibrationPublisher, auditRepo, logger)
	if err != nil {
		logger.Fatalf("calibration service error: %v", err)
	}
	calibrationHandler, err := calibrationhttp.NewHandler(calibrationService)
	if err != nil {
		logger.Fatalf("calibration handler error: %v", err)
	}

	reportService, err := reportsapp.NewService(timeseries, stationParamRepo, stationRepo, aggCfg, logger)
	if err != nil {
		logger.Fatalf("reports service error: %v", err)
	}
	reportHandler, err := reportshttp.NewHandler(reportService)
	if err != nil {
		logger.Fatalf("reports handler error: %v", err)
	}
	exportHandler, err := reportshttp.NewExportHandler(reportService, logger)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}

	dashboardService, err := dashboardapp.NewService(timeseries, masterService, aggCfg, logger)
	if err != nil {
		logger.Fatalf("dashboard service error: %v", err)
	}
	dashboardHandler, err := dashboardhttp.NewHandler(dashboardService)
	if err != nil {
		logger.Fatalf("dashboard handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics", "/api/v1/auth/login"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware(deviceSecretSource{devices: deviceRepo}, time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/auth/login", loginHandler)
	mux.Handle("/ingest/readings", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/sites", masterHandler)
	mux.Handle("/api/v1/sites/", siteDispatcher(dashboardHandler, masterHandler))
	mux.Handle("/api/v1/stations", masterHandler)
	mux.Handle("/api/v1/stations/", stationDispatcher(calibrationHandler, masterHandler))
	mux.Handle("/api/v1/parameters", masterHandler)
	mux.Handle("/api/v1/monitoring-types", masterHandler)
	mux.Handle("/api/v1/analysers", masterHandler)
	mux.Handle("/api/v1/station-parameters", masterHandler)
	mux.Handle("/api/v1/station-parameters/", masterHandler)
	mux.Handle("/api/v1/devices", masterHandler)
	mux.Handle("/api/v1/alerts", alertHandler)
	mux.Handle("/api/v1/alerts/", alertHandler)
	mux.Handle("/api/v1/alerts/stream", alerthttp.NewStreamHandler(alertBroker))
	mux.Handle("/api/v1/reports/", reportHandler)
	mux.Handle("/api/v1/exports/", exportHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.CORSOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)
	handler := loggingMiddleware(cors(handlers.CompressHandler(authMiddleware.Wrap(mux))), logger)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: handler}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

// siteDispatcher splits /api/v1/sites/{id}/... between the dashboard and the
// master data handler.
func siteDispatcher(dashboard *dashboardhttp.Handler, master http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dashboard.Matches(r.URL.Path) {
			dashboard.ServeHTTP(w, r)
			return
		}
		master.ServeHTTP(w, r)
	})
}

// stationDispatcher splits /api/v1/stations/{id}/... between the calibration
// flow and the master data handler.
func stationDispatcher(calibration *calibrationhttp.Handler, master http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calibration.Matches(r.URL.Path) {
			calibration.ServeHTTP(w, r)
			return
		}
		master.ServeHTTP(w, r)
	})
}

// deviceSecretSource resolves ingest signing keys from the device registry.
type deviceSecretSource struct {
	devices masterdata.DeviceRepository
}

func (s deviceSecretSource) IngestSecret(ctx context.Context, deviceUID string) ([]byte, error) {
	device, err := s.devices.GetByUID(ctx, deviceUID)
	if err != nil {
		return nil, err
	}
	if device == nil || !device.Active {
		return nil, nil
	}
	return []byte(device.AuthKey), nil
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	JWTSecret         string
	TokenTTL          time.Duration
	IngestSkewSeconds int
	AlertWebhookURL   string
	AlertCooldown     time.Duration
	MQTTBrokerURL     string
	MQTTClientID      string
	MQTTUsername      string
	MQTTPassword      string
	CORSOrigins       []string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		TokenTTL:          getenvDuration("AUTH_TOKEN_TTL", 12*time.Hour),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
		AlertWebhookURL:   getenvDefault("ALERT_WEBHOOK_URL", ""),
		AlertCooldown:     getenvDuration("ALERT_COOLDOWN", 15*time.Minute),
		MQTTBrokerURL:     getenvDefault("MQTT_BROKER_URL", ""),
		MQTTClientID:      getenvDefault("MQTT_CLIENT_ID", "cems-cloud"),
		MQTTUsername:      getenvDefault("MQTT_USERNAME", ""),
		MQTTPassword:      getenvDefault("MQTT_PASSWORD", ""),
		CORSOrigins:       []string{getenvDefault("CORS_ALLOWED_ORIGIN", "*")},
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE and streamed exports working behind the logger.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
