package httpapi

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/ledger"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"

	"github.com/shopspring/decimal"
)

type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger

	Rides    *ride.Service
	Journal  *ride.Journal
	Ledger   *ledger.Ledger
	Registry *registry.Registry
	Geo      geo.Geo
	Kafka    *ingest.KafkaProducer // optional

	mux *mux.Router
}

type Deps struct {
	Rides    *ride.Service
	Journal  *ride.Journal
	Ledger   *ledger.Ledger
	Registry *registry.Registry
	Geo      geo.Geo
	Kafka    *ingest.KafkaProducer
}

func NewServer(cfg config.ServerConfig, logger *slog.Logger, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		Rides:    deps.Rides,
		Journal:  deps.Journal,
		Ledger:   deps.Ledger,
		Registry: deps.Registry,
		Geo:      deps.Geo,
		Kafka:    deps.Kafka,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// NewServerFromEnv wires the whole service from environment configuration
// with in-memory fallbacks, so the binary runs locally without Redis, Kafka
// or Postgres.
func NewServerFromEnv() (*Server, error) {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var ggeo geo.Geo
	if cfg.RedisAddr != "" {
		ggeo = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		ggeo = geo.NewIndex()
	}

	var archive storage.Archiver
	var sink ledger.Sink
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			archive = ps
			sink = ps
		} else {
			logger.Warn("postgres unavailable, running without archive", "error", err)
		}
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaEventTopic)
	}

	estimator := &eta.Estimator{
		Cache:           eta.NewCache(30 * time.Second),
		DefaultSpeedMps: cfg.DefaultSpeedMps,
	}
	if endpoint := os.Getenv("OSRM_ENDPOINT"); endpoint != "" {
		estimator.Client = eta.NewOSRMClient(endpoint)
	}

	reg := registry.New(logger)
	fanout := notify.NewFanout(reg, logger)

	ledgerOpts := []ledger.Option{ledger.WithNotifier(fanout), ledger.WithLogger(logger)}
	if sink != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithSink(sink))
	}
	led := ledger.New(ledgerOpts...)

	store := storage.NewMemoryStore()
	rides := ride.NewService(ride.Config{
		Store:            store,
		Archive:          archive,
		Ledger:           led,
		Fanout:           fanout,
		Candidates:       &matcher.Service{Geo: ggeo, ETA: estimator, TopN: cfg.CandidateLimit},
		Events:           rideEvents(kp),
		Fare:             fare.DefaultTable(),
		FeeRate:          decimal.NewFromFloat(cfg.PlatformFeeRate),
		ProximityRadiusM: cfg.ProximityRadiusM,
		Logger:           logger,
	})

	return NewServer(cfg, logger, Deps{
		Rides:    rides,
		Journal:  ride.NewJournal(store),
		Ledger:   led,
		Registry: reg,
		Geo:      ggeo,
		Kafka:    kp,
	}), nil
}

// rideEvents avoids handing the lifecycle a non-nil interface wrapping a nil
// producer.
func rideEvents(kp *ingest.KafkaProducer) ride.EventPublisher {
	if kp == nil {
		return nil
	}
	return kp
}

func (s *Server) Config() config.ServerConfig { return s.cfg }

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/request", s.handleCreateRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/ratings/summary", s.handleRatingSummary).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/arrived", s.handleArrived).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/start", s.handleStart).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/rating", s.handleRate).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/message", s.handleAdminMessage).Methods("POST")
	s.mux.HandleFunc("/api/v1/admin/balance", s.handleAdminBalance).Methods("POST")
	s.mux.HandleFunc("/api/v1/users/{user_id}/balance", s.handleBalance).Methods("GET")
	s.mux.HandleFunc("/api/v1/users/{user_id}/rides", s.handleRiderHistory).Methods("GET")
	s.mux.HandleFunc("/api/v1/drivers/{driver_id}/rides", s.handleDriverRides).Methods("GET")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
