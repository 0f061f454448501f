package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"ride-tracking-system/api"
	"ride-tracking-system/board"
	"ride-tracking-system/cache"
	"ride-tracking-system/config"
	"ride-tracking-system/database"
	"ride-tracking-system/ingest"
	"ride-tracking-system/migration"
	"ride-tracking-system/session"
)

const shutdownTimeout = 10 * time.Second

func boardOptions(cfg config.BoardConfig) []board.Option {
	opts := []board.Option{board.WithPrecision(cfg.GeohashPrecision)}
	if cfg.SpatialIndex {
		opts = append(opts, board.WithSpatialIndex())
	}
	return opts
}

// logQueueErrors logs rmq connection errors until done is closed. errChan is
// never closed because rmq may still write to it while stopping.
func logQueueErrors(errChan <-chan error, done <-chan struct{}) {
	for {
		select {
		case err := <-errChan:
			log.Error().Err(err).Msg("Queue connection error")
		case <-done:
			return
		}
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and, when enabled, the telemetry consumers",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			sessions := session.NewManager(boardOptions(cfg.Board)...)
			handler := &api.Handler{Sessions: sessions}

			var driverCache *cache.DriverCache
			if cfg.Redis.Enabled {
				rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
				if err != nil {
					return err
				}
				defer rdb.Close()
				driverCache = cache.NewDriverCache(rdb, cfg.Board.GeohashPrecision)
				handler.Cache = driverCache
			}

			if cfg.DB.Enabled {
				db, err := database.Open(ctx, cfg.DB)
				if err != nil {
					return err
				}
				defer db.Close()
				store := database.NewRideStore(db)
				handler.Recorder = store
				handler.History = store
			}

			if cfg.Ingest.Enabled {
				errChan := make(chan error, 10)
				done := make(chan struct{})
				go logQueueErrors(errChan, done)

				conn, err := rmq.OpenConnection("ridetracker", "tcp", cfg.Redis.Addr, cfg.Redis.DB, errChan)
				if err != nil {
					close(done)
					return err
				}
				defer func() {
					<-conn.StopAllConsuming()
					close(done)
				}()

				var consumerCache ingest.DriverCache
				if driverCache != nil {
					consumerCache = driverCache
				}
				if _, err := ingest.Start(conn, cfg.Ingest, ingest.NewConsumer(sessions, consumerCache)); err != nil {
					return err
				}
			}

			server := &http.Server{
				Addr:    cfg.Server.Addr,
				Handler: api.RegisterRoutes(handler, cfg.Server.AllowedOrigins),
			}

			serveErr := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Server.Addr).Msg("Server started")
				serveErr <- server.ListenAndServe()
			}()

			select {
			case err := <-serveErr:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return migration.Run(c.Context, cfg.DB)
		},
	}
}

func publishSighting(conn rmq.Connection, queueName string, ev ingest.Event) error {
	if ev.SessionID == "" {
		return errors.New("session id is required")
	}
	if ev.Removed {
		if ev.ID == "" {
			return board.ErrInvalidSighting
		}
	} else if err := ev.Validate(); err != nil {
		return err
	}

	queue, err := conn.OpenQueue(queueName)
	if err != nil {
		return err
	}
	return ingest.Publish(queue, ev)
}

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "Enqueue one driver sighting for the telemetry consumers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Usage: "session id", Required: true},
			&cli.StringFlag{Name: "driver", Usage: "driver id", Required: true},
			&cli.Float64Flag{Name: "lat", Usage: "latitude in degrees"},
			&cli.Float64Flag{Name: "lng", Usage: "longitude in degrees"},
			&cli.BoolFlag{Name: "removed", Usage: "drop the driver instead of moving it"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if !c.Bool("removed") && (!c.IsSet("lat") || !c.IsSet("lng")) {
				return errors.New("--lat and --lng are required unless --removed is set")
			}

			errChan := make(chan error, 10)
			done := make(chan struct{})
			go logQueueErrors(errChan, done)
			defer close(done)

			conn, err := rmq.OpenConnection("ridetracker-publish", "tcp", cfg.Redis.Addr, cfg.Redis.DB, errChan)
			if err != nil {
				return err
			}
			defer func() { <-conn.StopAllConsuming() }()

			ev := ingest.Event{
				SessionID: c.String("session"),
				Sighting: board.Sighting{
					ID:  c.String("driver"),
					Lat: c.Float64("lat"),
					Lng: c.Float64("lng"),
				},
				Removed: c.Bool("removed"),
			}
			if err := publishSighting(conn, cfg.Ingest.Queue, ev); err != nil {
				return err
			}
			log.Info().Str("session", ev.SessionID).Str("driver", ev.ID).Str("queue", cfg.Ingest.Queue).Msg("Sighting published")
			return nil
		},
	}
}
