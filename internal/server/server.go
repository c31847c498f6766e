// Package server assembles the beam exchange: the in-memory store, the
// chunked upload assembler, the realtime dispatcher, the cleanup scheduler,
// and the HTTP surface they hang off.
package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go/http3"
	"go.uber.org/zap"

	"github.com/zulfikawr/beam/internal/cleanup"
	"github.com/zulfikawr/beam/internal/clock"
	"github.com/zulfikawr/beam/internal/config"
	"github.com/zulfikawr/beam/internal/discovery"
	"github.com/zulfikawr/beam/internal/logging"
	"github.com/zulfikawr/beam/internal/protocol"
	"github.com/zulfikawr/beam/internal/store"
	"github.com/zulfikawr/beam/internal/upload"
)

// Server is the composed system value. Tests build one with a fake clock
// and drive it directly; main builds one from config and runs it.
type Server struct {
	cfg *config.Config
	clk clock.Clock

	Store      *store.Store
	Assembler  *upload.Assembler
	Hub        *Hub
	Dispatcher *Dispatcher
	Scheduler  *cleanup.Scheduler

	httpServer  *http.Server
	http3Server *http3.Server
	advertiser  *discovery.Advertiser
	tlsCert     *tls.Certificate

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	// Addr is the bound TCP address, available after Start.
	Addr string
}

// New assembles a server from configuration. clk may be a fake in tests.
func New(cfg *config.Config, clk clock.Clock) *Server {
	st := store.New(clk, store.Options{
		TTL:           cfg.SessionTTL(),
		MaxFileSize:   cfg.MaxFileSizeBytes,
		MaxTotalBytes: cfg.MaxTotalBytes,
	})
	asm := upload.New(clk, cfg.MaxFileSizeBytes)
	hub := NewHub()
	disp := NewDispatcher(clk, st, asm, hub, cfg.FramesPerSecond)
	sched := cleanup.New(clk, st, asm, hub, cfg.CleanupInterval())

	return &Server{
		cfg:        cfg,
		clk:        clk,
		Store:      st,
		Assembler:  asm,
		Hub:        hub,
		Dispatcher: disp,
		Scheduler:  sched,
	}
}

// Mux builds the HTTP surface. Exported for httptest-based tests.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(protocol.HealthPath, s.handleHealth)
	mux.Handle(protocol.MetricsPath, promhttp.Handler())
	mux.HandleFunc(protocol.WebSocketPath, s.Dispatcher.HandleWS)
	mux.HandleFunc(protocol.DownloadPath, s.handleDownload)
	mux.HandleFunc(protocol.SharePath, s.handleShareTarget)
	return mux
}

// Start binds the listeners and launches the background loops.
func (s *Server) Start() error {
	mux := s.Mux()

	s.httpServer = &http.Server{
		ReadHeaderTimeout: ReadHeaderTimeout,
		IdleTimeout:       IdleTimeout,
		MaxHeaderBytes:    1 << 20,
		Handler:           mux,
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.Addr = ln.Addr().String()

	s.shutdownCtx, s.shutdownCancel = context.WithCancel(context.Background())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Error("http server error", zap.Error(err))
		}
	}()

	if s.cfg.EnableHTTP3 {
		if tlsConfig, err := s.quicTLSConfig(); err != nil {
			logging.Warn("failed to create TLS config for HTTP/3", zap.Error(err))
		} else {
			s.http3Server = &http3.Server{
				Handler:   mux,
				Addr:      s.Addr,
				TLSConfig: tlsConfig,
			}
			go func() {
				if err := s.http3Server.ListenAndServe(); err != nil &&
					err.Error() != "quic: Server closed" &&
					err.Error() != "http3: Server closed" &&
					err.Error() != "http: Server closed" {
					logging.Warn("HTTP/3 server error", zap.Error(err))
				}
			}()
			logging.Info("HTTP/3 listener started", zap.String("addr", s.Addr))
		}
	}

	s.Scheduler.Start()

	if s.cfg.EnableMDNS {
		if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
			adv, err := discovery.Advertise("beam", protocol.WebSocketPath, tcpAddr.Port)
			if err != nil {
				logging.Warn("mDNS advertise failed", zap.Error(err))
			} else {
				s.advertiser = adv
			}
		}
	}

	logging.Info("beam server listening", zap.String("addr", s.Addr))
	return nil
}

// Shutdown stops the listeners and the background loops gracefully.
func (s *Server) Shutdown() error {
	if s.shutdownCancel != nil {
		s.shutdownCancel()
	}
	s.Scheduler.Stop()
	if s.advertiser != nil {
		s.advertiser.Close()
	}
	if s.http3Server != nil {
		if err := s.http3Server.Close(); err != nil {
			logging.Warn("error closing HTTP/3 server", zap.Error(err))
		}
	}
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports liveness plus the headline numbers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	resp := map[string]any{
		"status":    "ok",
		"sessions":  s.Store.SessionCount(),
		"bytesUsed": s.Store.TotalBytes(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// quicTLSConfig lazily generates the self-signed certificate the HTTP/3
// listener needs.
func (s *Server) quicTLSConfig() (*tls.Config, error) {
	if s.tlsCert == nil {
		cert, err := generateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate certificate: %w", err)
		}
		s.tlsCert = cert
	}
	return &tls.Config{
		Certificates: []tls.Certificate{*s.tlsCert},
		ClientAuth:   tls.NoClientCert,
	}, nil
}

func generateSelfSignedCert() (*tls.Certificate, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:         "beam-server",
			Organization:       []string{"beam"},
			OrganizationalUnit: []string{"local"},
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(24 * time.Hour),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1")},
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return &tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  privateKey,
		Leaf:        cert,
	}, nil
}
