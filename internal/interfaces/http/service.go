package httpinterface

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-settlement/internal/core/application/auction"
	"github.com/tdex-network/tdex-settlement/internal/core/application/compliance"
	"github.com/tdex-network/tdex-settlement/internal/core/application/escrow"
	"github.com/tdex-network/tdex-settlement/internal/core/application/pubsub"
	"github.com/tdex-network/tdex-settlement/internal/core/application/relay"
	interfaces "github.com/tdex-network/tdex-settlement/internal/interfaces"
)

const (
	// TLSKeyFile is the name of the TLS key file of the http interface.
	TLSKeyFile = "key.pem"
	// TLSCertFile is the name of the TLS certificate file of the http
	// interface.
	TLSCertFile = "cert.pem"

	minOperatorSecretLen = 32
	shutdownTimeout      = 10 * time.Second
)

type ServiceOpts struct {
	Address string
	// TLSDir enables TLS if not empty. A self-signed key pair is created in
	// the directory if missing.
	TLSDir       string
	ExtraIPs     []string
	ExtraDomains []string

	OperatorSecret  []byte
	MetricsGatherer prometheus.Gatherer

	AuctionSvc    *auction.Service
	EscrowSvc     *escrow.Service
	ComplianceSvc *compliance.Service
	RelaySvc      *relay.Service
	PubSubSvc     *pubsub.Service
}

func (o ServiceOpts) validate() error {
	if len(o.OperatorSecret) < minOperatorSecretLen {
		return fmt.Errorf(
			"operator secret must be at least %d bytes long", minOperatorSecretLen,
		)
	}
	for _, ip := range o.ExtraIPs {
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("invalid extra ip %s", ip)
		}
	}
	if o.TLSDir != "" {
		keyExists := pathExists(filepath.Join(o.TLSDir, TLSKeyFile))
		certExists := pathExists(filepath.Join(o.TLSDir, TLSCertFile))
		if !keyExists && certExists {
			return fmt.Errorf(
				"found %s file but %s is missing, delete %s to have the daemon "+
					"recreate both in path %s",
				TLSCertFile, TLSKeyFile, TLSCertFile, o.TLSDir,
			)
		}
	}
	if o.AuctionSvc == nil {
		return fmt.Errorf("auction app service must not be null")
	}
	if o.EscrowSvc == nil {
		return fmt.Errorf("escrow app service must not be null")
	}
	if o.ComplianceSvc == nil {
		return fmt.Errorf("compliance app service must not be null")
	}
	if o.RelaySvc == nil {
		return fmt.Errorf("relay app service must not be null")
	}
	if o.PubSubSvc == nil {
		return fmt.Errorf("pubsub app service must not be null")
	}
	return nil
}

func (o ServiceOpts) withTLS() bool {
	return o.TLSDir != ""
}

type service struct {
	opts   ServiceOpts
	server *http.Server
}

func NewService(opts ServiceOpts) (interfaces.Service, error) {
	handler, err := NewHandler(opts)
	if err != nil {
		return nil, fmt.Errorf("invalid opts: %s", err)
	}

	if opts.withTLS() {
		if err := generateTLSKeyCert(
			opts.TLSDir, opts.ExtraIPs, opts.ExtraDomains,
		); err != nil {
			return nil, err
		}
	}

	return &service{
		opts: opts,
		server: &http.Server{
			Addr:              opts.Address,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (s *service) Start() error {
	lis, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}

	if s.opts.withTLS() {
		cert, err := tls.LoadX509KeyPair(
			filepath.Join(s.opts.TLSDir, TLSCertFile),
			filepath.Join(s.opts.TLSDir, TLSKeyFile),
		)
		if err != nil {
			lis.Close()
			return err
		}
		lis = tls.NewListener(lis, &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		})
	}

	go func() {
		if err := s.server.Serve(lis); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("http interface stopped unexpectedly")
		}
	}()

	log.WithFields(log.Fields{
		"address": lis.Addr().String(),
		"tls":     s.opts.withTLS(),
	}).Info("http interface listening")
	return nil
}

func (s *service) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("failed to gracefully stop http interface")
	}
	log.Debug("disabled http interface")
}
