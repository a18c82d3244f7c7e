package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/caremesh/ehrbridge/audit"
	"github.com/caremesh/ehrbridge/cerner"
	"github.com/caremesh/ehrbridge/connector"
	"github.com/caremesh/ehrbridge/epic"
	"github.com/caremesh/ehrbridge/healthcheck"
	"github.com/caremesh/ehrbridge/messaging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Start runs the integration server until the context is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, config Config) error {
	zerolog.SetGlobalLevel(config.LogLevel)
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Set up dependencies
	broker, err := messaging.New(config.Messaging, []messaging.Entity{audit.Entity})
	if err != nil {
		return fmt.Errorf("failed to create message broker: %w", err)
	}
	defer func() {
		if err := broker.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to close message broker")
		}
	}()
	sink := audit.NewBrokerSink(broker, config.Audit)

	registry, err := buildRegistry(config.Vendors, sink)
	if err != nil {
		return err
	}

	// Register services
	httpHandler := http.NewServeMux()
	services := []Service{registry, healthcheck.New()}
	for _, service := range services {
		service.RegisterHandlers(httpHandler)
	}

	// Start HTTP server
	server := &http.Server{Addr: config.Public.Address, Handler: httpHandler}
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.ListenAndServe()
	}()
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
		return nil
	}
}

func buildRegistry(vendors connector.Config, sink audit.Sink) (*connector.Registry, error) {
	registry := connector.NewRegistry()
	for vendorID, props := range vendors {
		var conn *connector.Connector
		var err error
		switch props.Vendor {
		case "epic":
			conn, err = epic.New(vendorID, props, sink)
		case "cerner":
			conn, err = cerner.New(vendorID, props, sink)
		default:
			return nil, fmt.Errorf("vendor %s: unsupported vendor type: %s", vendorID, props.Vendor)
		}
		if err != nil {
			return nil, fmt.Errorf("vendor %s: %w", vendorID, err)
		}
		registry.Register(conn)
		log.Info().Msgf("Configured vendor %s (type=%s)", vendorID, props.Vendor)
	}
	return registry, nil
}

type Service interface {
	RegisterHandlers(mux *http.ServeMux)
}
