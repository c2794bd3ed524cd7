package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Seednode/castaway/internal/cartridge"
	"github.com/Seednode/castaway/internal/fact"
	"github.com/Seednode/castaway/internal/orchestrator"
)

const (
	timeout     time.Duration = 10 * time.Second
	mirrorLen   int64         = 10000
	mirrorTopic string        = "castaway:facts"
)

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func serveVersion(cfg *Config, log logrus.FieldLogger, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("castaway v" + releaseVersion + "\n"))
		if err != nil {
			errs <- err

			return
		}

		log.WithFields(logrus.Fields{
			"bytes":    written,
			"remote":   realIP(r),
			"duration": time.Since(startTime).Round(time.Microsecond),
		}).Debug("served version page")
	}
}

// openStore returns the SQLite ledger store when a path is configured and
// an in-memory one otherwise.
func openStore(cfg *Config, log logrus.FieldLogger) (fact.Store, error) {
	if cfg.dbPath == "" {
		log.Warn("no --db configured, facts will not survive a restart")
		return fact.NewMemoryStore(), nil
	}

	store, err := fact.OpenSQLite(cfg.dbPath)
	if err != nil {
		return nil, err
	}
	log.WithField("path", cfg.dbPath).Info("opened fact store")
	return store, nil
}

func openMirror(ctx context.Context, cfg *Config, log logrus.FieldLogger) (fact.Mirror, func() error, error) {
	if cfg.redisAddr == "" {
		return nil, func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.redisAddr, err)
	}

	log.WithField("addr", cfg.redisAddr).Info("mirroring facts to redis")
	return fact.NewRedisMirror(client, mirrorTopic, mirrorLen), client.Close, nil
}

func openNotifier(cfg *Config, log logrus.FieldLogger) (orchestrator.Notifier, func() error, error) {
	if cfg.amqpURL == "" {
		return orchestrator.LogNotifier{Log: log}, func() error { return nil }, nil
	}

	conn, err := amqp091.Dial(cfg.amqpURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	notifier, err := orchestrator.NewAMQPNotifier(conn, log)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	return notifier, func() error {
		_ = notifier.Close()
		return conn.Close()
	}, nil
}

func ServePage(ctx context.Context, cfg *Config, args []string) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	log := newLogger(cfg)

	log.WithField("version", releaseVersion).Info("starting castaway")

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	mirror, closeMirror, err := openMirror(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeMirror()

	notifier, closeNotifier, err := openNotifier(cfg, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sm := newSessionManager(ctx, sessionDeps{
		timeline: cfg.timeline(),
		registry: cartridge.NewRegistry(cartridge.Policies{}),
		store:    store,
		mirror:   mirror,
		notifier: notifier,
		metrics:  orchestrator.NewMetrics(reg),
		log:      log,
	}, cfg.sessionTimeout)
	defer sm.closeAll()

	mux := httprouter.New()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		log.WithField("panic", i).Error("handler panicked")

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		io.WriteString(w, newPage("Server Error", "An error has occurred. Please try again.", cfg.prefix+"/"))
	}

	errs := make(chan error, 64)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errs:
				log.WithError(err).Warn("write failed")
			}
		}
	}()

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	mux.GET(cfg.prefix+"/", serveHomePage(cfg, "/session", errs))

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, errs))

	mux.Handler("GET", cfg.prefix+"/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg, errs))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg, log, errs))

	if cfg.profile {
		registerProfileHandlers(cfg, mux, log)
	}

	registerSessions(cfg, "/session", mux, sm)

	go func() {
		var err error
		log.WithField("addr", fmt.Sprintf("%s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)).Info("listening")
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
