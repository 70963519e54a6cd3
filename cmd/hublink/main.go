// hublink keeps an authenticated WebSocket session to a home-automation hub
// and republishes what it sees.
//
// The hub's entity states are mirrored in memory and, when enabled, recorded
// to SQLite, relayed to MQTT and written to InfluxDB. A local HTTP API serves
// the mirror and forwards service calls back to the hub.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/hublink/internal/api"
	"github.com/nerrad567/hublink/internal/hub/events"
	"github.com/nerrad567/hublink/internal/hub/rest"
	"github.com/nerrad567/hublink/internal/hub/session"
	"github.com/nerrad567/hublink/internal/hub/socket"
	"github.com/nerrad567/hublink/internal/infrastructure/config"
	"github.com/nerrad567/hublink/internal/infrastructure/database"
	"github.com/nerrad567/hublink/internal/infrastructure/influxdb"
	"github.com/nerrad567/hublink/internal/infrastructure/logging"
	"github.com/nerrad567/hublink/internal/infrastructure/mqtt"
	"github.com/nerrad567/hublink/internal/mirror"
	"github.com/nerrad567/hublink/internal/relay"
	"github.com/nerrad567/hublink/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application, separated from main for testability.
//
// It returns nil on a clean shutdown. A hub that rejects the token ends the
// run with an error wrapping session.ErrAuthInvalid.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting hublink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	expires, err := session.CheckToken(cfg.Hub.Token, time.Now())
	if err != nil {
		return fmt.Errorf("checking hub token: %w", err)
	}
	if !expires.IsZero() {
		log.Info("hub token accepted", "expires", expires)
	}

	// Hub link. Listeners are wired before the session starts so the first
	// handshake already feeds the mirror.
	sock := socket.New(socket.Config{
		URL:              cfg.Hub.URL,
		PingInterval:     cfg.Hub.GetPingInterval(),
		RetryDelay:       cfg.Hub.GetRetryDelay(),
		HandshakeTimeout: cfg.Hub.GetHandshakeTimeout(),
	})
	sock.SetLogger(log.With("component", "socket"))

	sess := session.New(sock, session.Config{
		Token:               cfg.Hub.Token,
		RequestTimeout:      cfg.Hub.GetRequestTimeout(),
		StaleAfter:          cfg.Hub.GetStaleAfter(),
		SweepInterval:       cfg.Hub.GetSweepInterval(),
		RunningPollInterval: cfg.Hub.GetRunningPollInterval(),
		RunningRetryDelay:   cfg.Hub.GetRunningRetryDelay(),
	})
	sess.SetLogger(log.With("component", "session"))

	bus := events.NewBus(events.DefaultQueueSize)
	bus.SetLogger(log.With("component", "bus"))
	bus.Start()
	defer bus.Close()

	fanout := events.NewFanout(sess, bus)
	fanout.SetLogger(log.With("component", "fanout"))

	entities := mirror.New(sess, bus)
	entities.SetLogger(log.With("component", "mirror"))
	defer entities.Close()

	components := map[string]func() any{
		"socket":  func() any { return sock.Stats() },
		"session": func() any { return sess.Stats() },
		"bus":     func() any { return bus.Stats() },
		"fanout":  func() any { return fanout.Stats() },
	}

	// State history (optional)
	var history *mirror.HistoryStore
	if cfg.Database.Enabled {
		db, openErr := database.Open(database.ConfigFrom(cfg.Database))
		if openErr != nil {
			return fmt.Errorf("opening database: %w", openErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", db.Path())

		history = mirror.NewHistoryStore(db.DB)
		recorder := mirror.NewRecorder(history, 0, cfg.Database.GetRetention())
		recorder.SetLogger(log.With("component", "recorder"))
		recorder.Start()
		defer recorder.Close()

		entities.OnChange(recorder.Handle)
		components["recorder"] = func() any { return recorder.Stats() }
	} else {
		log.Info("state history disabled")
	}

	// MQTT relay (optional)
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	switch {
	case errors.Is(err, mqtt.ErrDisabled):
		log.Info("MQTT disabled")
	case err != nil:
		return fmt.Errorf("connecting to MQTT: %w", err)
	default:
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", mqttClient.ClientID(),
		)

		rel := relay.New(mqttClient, relay.Options{})
		rel.SetLogger(log.With("component", "relay"))
		rel.Start()
		defer rel.Close()
		entities.OnChange(rel.HandleChange)
		unsubscribe := bus.SubscribeAll(rel.HandleEvent)
		defer unsubscribe()

		commands := relay.NewCommands(mqttClient, sess, cfg.Hub.GetRequestTimeout())
		commands.SetLogger(log.With("component", "commands"))
		// #nosec G115 -- QoS validated to 0..2
		if startErr := commands.Start(byte(cfg.MQTT.QoS)); startErr != nil {
			return fmt.Errorf("subscribing to MQTT commands: %w", startErr)
		}
		defer commands.Close()

		components["relay"] = func() any { return rel.Stats() }
		components["commands"] = func() any { return commands.Stats() }
		components["mqtt"] = func() any { return map[string]bool{"connected": mqttClient.IsConnected()} }
	}

	// InfluxDB metrics (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		metrics := relay.NewMetrics(influxClient)
		entities.OnChange(metrics.HandleChange)
		components["influxdb"] = func() any {
			return map[string]any{
				"connected":    influxClient.IsConnected(),
				"points":       metrics.Points(),
				"write_errors": influxClient.WriteErrors(),
			}
		}
	}

	// Local API (optional)
	if cfg.API.Enabled {
		restClient, restErr := newRESTClient(cfg.Hub)
		if restErr != nil {
			return restErr
		}

		deps := api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log.With("component", "api"),
			Entities:   entities,
			Services:   sess,
			States:     restClient,
			Session:    sess,
			Events:     bus,
			Version:    version,
			Components: components,
		}
		if history != nil {
			deps.History = history
		}
		server, newErr := api.New(deps)
		if newErr != nil {
			return fmt.Errorf("creating API server: %w", newErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	// Registered last so it runs first: no hub traffic reaches the
	// components below once they start closing.
	defer func() {
		log.Info("closing hub session")
		if closeErr := sess.Close(); closeErr != nil {
			log.Error("error closing hub session", "error", closeErr)
		}
	}()

	// Start blocks until the first dial succeeds; the handshake then
	// completes in the background.
	if err := sess.Start(ctx); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown requested before the hub was reached")
			return nil
		}
		return fmt.Errorf("connecting to hub: %w", err)
	}
	log.Info("hub connected, waiting for shutdown signal", "url", cfg.Hub.URL, "session_id", sess.ID())

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case fatalErr := <-sess.Fatal():
		log.Error("hub session ended", "error", fatalErr)
		return fmt.Errorf("hub session: %w", fatalErr)
	}

	// Deferred Close() calls run in reverse order: session, API, InfluxDB,
	// MQTT commands and relay, recorder and database, mirror, bus.
	log.Info("hublink stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HUBLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HUBLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newRESTClient builds the REST fallback client, deriving the base URL from
// the WebSocket URL when none is configured.
func newRESTClient(hub config.HubConfig) (*rest.Client, error) {
	base := hub.RESTURL
	if base == "" {
		derived, err := rest.BaseURLFromWebSocket(hub.URL)
		if err != nil {
			return nil, fmt.Errorf("deriving hub REST URL: %w", err)
		}
		base = derived
	}
	client, err := rest.New(base, hub.Token)
	if err != nil {
		return nil, fmt.Errorf("creating hub REST client: %w", err)
	}
	return client, nil
}
