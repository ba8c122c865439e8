package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"twinhub/internal/attrstore"
	"twinhub/internal/audit"
	"twinhub/internal/auth"
	"twinhub/internal/locations"
	locationhttp "twinhub/internal/locations/interfaces/http"
	"twinhub/internal/models"
	modelhttp "twinhub/internal/models/interfaces/http"
	"twinhub/internal/observability/metrics"
	"twinhub/internal/sensors"
	sensorhttp "twinhub/internal/sensors/interfaces/http"
	"twinhub/internal/services"
	servicehttp "twinhub/internal/services/interfaces/http"
	"twinhub/internal/users"
	userhttp "twinhub/internal/users/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	if err := applySchema(context.Background(), db); err != nil {
		logger.Fatalf("schema error: %v", err)
	}

	metrics.Init(db, logger)

	locationService, err := locations.NewService(db, logger)
	if err != nil {
		logger.Fatalf("location service error: %v", err)
	}
	sensorService, err := sensors.NewService(db, locationService, logger)
	if err != nil {
		logger.Fatalf("sensor service error: %v", err)
	}
	modelService, err := models.NewService(db, logger)
	if err != nil {
		logger.Fatalf("model service error: %v", err)
	}
	userService, err := users.NewService(db, logger)
	if err != nil {
		logger.Fatalf("user service error: %v", err)
	}
	serviceRegistry, err := services.NewRegistry(db, nil, logger)
	if err != nil {
		logger.Fatalf("service registry error: %v", err)
	}

	if cfg.BootstrapAdminEmail != "" && cfg.BootstrapAdminPassword != "" {
		err := userService.Insert(context.Background(), cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword, string(auth.RoleAdmin))
		if err != nil && !errors.Is(err, attrstore.ErrAlreadyExists) {
			logger.Fatalf("bootstrap admin error: %v", err)
		}
	}

	locationHandler, err := locationhttp.NewHandler(locationService, logger)
	if err != nil {
		logger.Fatalf("location handler error: %v", err)
	}
	sensorHandler, err := sensorhttp.NewHandler(sensorService, logger)
	if err != nil {
		logger.Fatalf("sensor handler error: %v", err)
	}
	modelHandler, err := modelhttp.NewHandler(modelService, logger)
	if err != nil {
		logger.Fatalf("model handler error: %v", err)
	}
	userHandler, err := userhttp.NewHandler(userService, logger)
	if err != nil {
		logger.Fatalf("user handler error: %v", err)
	}
	serviceHandler, err := servicehttp.NewHandler(serviceRegistry, logger)
	if err != nil {
		logger.Fatalf("service handler error: %v", err)
	}
	tokenHandler, err := auth.NewTokenHandler(userService, []byte(cfg.JWTSecret), cfg.AccessTokenTTL, cfg.RefreshTokenTTL, logger)
	if err != nil {
		logger.Fatalf("token handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/auth/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	auditMiddleware := audit.Middleware(audit.NewRepository(db), logger)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/location/", locationHandler)
	mux.Handle("/api/v1/sensor/", sensorHandler)
	mux.Handle("/api/v1/model/", modelHandler)
	mux.Handle("/api/v1/user/", userHandler)
	mux.Handle("/api/v1/service/", serviceHandler)
	mux.Handle("/auth/login", tokenHandler)
	mux.Handle("/auth/refresh", tokenHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(auditMiddleware(mux)), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

// applySchema executes the startup DDL for every domain. Statements use
// CREATE TABLE IF NOT EXISTS, so re-running on boot is safe.
func applySchema(ctx context.Context, db *sql.DB) error {
	var statements []string
	statements = append(statements, locations.Tables.DDL()...)
	statements = append(statements, sensors.DDL()...)
	statements = append(statements, models.DDL()...)
	statements = append(statements, users.DDL()...)
	statements = append(statements, services.DDL()...)
	statements = append(statements, audit.DDL()...)
	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}

type config struct {
	DatabaseURL            string `yaml:"database_url"`
	HTTPAddr               string `yaml:"http_addr"`
	JWTSecret              string `yaml:"jwt_secret"`
	AccessTokenTTLRaw      string `yaml:"access_token_ttl"`
	RefreshTokenTTLRaw     string `yaml:"refresh_token_ttl"`
	BootstrapAdminEmail    string `yaml:"bootstrap_admin_email"`
	BootstrapAdminPassword string `yaml:"bootstrap_admin_password"`

	AccessTokenTTL  time.Duration `yaml:"-"`
	RefreshTokenTTL time.Duration `yaml:"-"`
}

// loadConfig reads settings from the environment, then applies an optional
// YAML overlay named by TWINHUB_CONFIG on top.
func loadConfig() (config, error) {
	cfg := config{
		DatabaseURL:            getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:               getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:              getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		AccessTokenTTLRaw:      getenvDefault("ACCESS_TOKEN_TTL", "15m"),
		RefreshTokenTTLRaw:     getenvDefault("REFRESH_TOKEN_TTL", "720h"),
		BootstrapAdminEmail:    os.Getenv("BOOTSTRAP_ADMIN_EMAIL"),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
	}

	if path := os.Getenv("TWINHUB_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		return cfg, errors.New("AUTH_JWT_SECRET is required")
	}
	var err error
	if cfg.AccessTokenTTL, err = time.ParseDuration(cfg.AccessTokenTTLRaw); err != nil {
		return cfg, errors.New("ACCESS_TOKEN_TTL must be a duration")
	}
	if cfg.RefreshTokenTTL, err = time.ParseDuration(cfg.RefreshTokenTTLRaw); err != nil {
		return cfg, errors.New("REFRESH_TOKEN_TTL must be a duration")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		elapsed := time.Since(start)
		metrics.ObserveHTTPRequest(r.Method, routeGroup(r.URL.Path), strconv.Itoa(resp.status), elapsed)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, elapsed)
	})
}

// routeGroup collapses request paths into a bounded metric label set.
func routeGroup(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/location/"):
		return "location"
	case strings.HasPrefix(path, "/api/v1/sensor/"):
		return "sensor"
	case strings.HasPrefix(path, "/api/v1/model/"):
		return "model"
	case strings.HasPrefix(path, "/api/v1/user/"):
		return "user"
	case strings.HasPrefix(path, "/api/v1/service/"):
		return "service"
	case strings.HasPrefix(path, "/auth/"):
		return "auth"
	case path == "/metrics":
		return "metrics"
	case path == "/healthz":
		return "healthz"
	default:
		return "other"
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
