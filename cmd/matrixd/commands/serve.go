package commands

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/matrixd/config"
	"github.com/teranos/matrixd/errors"
	"github.com/teranos/matrixd/eventstore"
	"github.com/teranos/matrixd/federation"
	"github.com/teranos/matrixd/kv"
	"github.com/teranos/matrixd/logger"
	"github.com/teranos/matrixd/pdu"
	"github.com/teranos/matrixd/retryqueue"
	"github.com/teranos/matrixd/stateengine"
)

// ServeCmd starts the homeserver: it opens the event store, builds the
// federation client/processor pair, and serves the federation HTTP
// surface until interrupted.
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the homeserver and accept federation traffic",
	RunE:    runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.Logger.Named("matrixd")
	log.Infow("starting matrixd", "server_name", cfg.ServerName, "port", cfg.Port, "verbosity", verbosity)

	db, err := kv.Open(cfg.DatabasePath, logger.ComponentLogger("kv"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	engine := stateengine.New(db, logger.ComponentLogger("stateengine"))
	store := eventstore.New(db, engine, logger.ComponentLogger("eventstore"))

	signer, pub, err := pdu.LoadOrCreateSigner(signingKeyPath(cfg.DatabasePath), cfg.ServerName)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	log.Infow("loaded signing identity", "key_id", signer.KeyID, "did_key", pdu.EncodeVerifyKey(pub))

	mux := http.NewServeMux()

	if cfg.FederationEnabled {
		fed := cfg.Federation
		discovery := federation.NewDiscovery(
			time.Duration(fed.WellKnownTimeoutSeconds)*time.Second,
			time.Duration(fed.SRVTimeoutSeconds)*time.Second,
			time.Duration(fed.WellKnownCacheHours)*time.Hour,
		)
		client := federation.NewClient(cfg.ServerName, signer, discovery,
			time.Duration(fed.RequestTimeoutSeconds)*time.Second, logger.ComponentLogger("federation.client"))
		keyring := federation.NewKeyring(time.Duration(fed.RequestTimeoutSeconds) * time.Second)
		processor := federation.NewProcessor(store, keyring, client, logger.ComponentLogger("federation.processor"))

		server := federation.NewServer(cfg.ServerName, signer, pub, store, processor, logger.ComponentLogger("federation.server"))
		server.Routes(mux)

		stream := federation.NewStreamHandler(store, logger.ComponentLogger("federation.stream"))
		stream.Routes(mux)

		queue := retryqueue.New(client,
			time.Duration(fed.RetryBaseSeconds)*time.Second,
			time.Duration(fed.RetryMaxMinutes)*time.Minute,
			50, logger.ComponentLogger("retryqueue"))
		defer queue.Close()

		dispatcher := federation.NewDispatcher(store, queue, cfg.ServerName)
		processor.SetDispatcher(dispatcher)

		log.Infow("federation enabled", "well_known_cache_hours", fed.WellKnownCacheHours)
	} else {
		log.Infow("federation disabled by configuration")
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLS.CertFile != "" {
			cert, certErr := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			if certErr != nil {
				errCh <- errors.WithKind(errors.Wrap(certErr, "load TLS certificate"), errors.KindBadConfig)
				return
			}
			httpServer.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
			errCh <- httpServer.ListenAndServeTLS("", "")
			return
		}
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-sigCh:
		log.Info("shutting down gracefully (press Ctrl+C again to force)")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		shutdownDone := make(chan error, 1)
		go func() { shutdownDone <- httpServer.Shutdown(shutdownCtx) }()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			log.Info("server stopped cleanly")
			return nil
		case <-sigCh:
			log.Warn("force shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}
