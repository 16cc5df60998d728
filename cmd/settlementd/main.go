package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-settlement/internal/config"
	"github.com/tdex-network/tdex-settlement/internal/core/application/auction"
	"github.com/tdex-network/tdex-settlement/internal/core/application/compliance"
	"github.com/tdex-network/tdex-settlement/internal/core/application/escrow"
	"github.com/tdex-network/tdex-settlement/internal/core/application/pubsub"
	"github.com/tdex-network/tdex-settlement/internal/core/application/relay"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/core/ports"
	"github.com/tdex-network/tdex-settlement/internal/infrastructure/chain/evm"
	"github.com/tdex-network/tdex-settlement/internal/infrastructure/chain/simulated"
	webhookpubsub "github.com/tdex-network/tdex-settlement/internal/infrastructure/pubsub"
	dbbadger "github.com/tdex-network/tdex-settlement/internal/infrastructure/storage/db/badger"
	"github.com/tdex-network/tdex-settlement/internal/infrastructure/storage/db/inmemory"
	postgresdb "github.com/tdex-network/tdex-settlement/internal/infrastructure/storage/db/pg"
	httpinterface "github.com/tdex-network/tdex-settlement/internal/interfaces/http"
)

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	datadir := config.GetDatadir()

	repoManager, err := newRepoManager(datadir)
	if err != nil {
		log.WithError(err).Fatal("error while opening db")
	}

	webhooks, err := webhookpubsub.NewService(
		datadir, dbbadger.NewLogger(log.WithField("module", "pubsub")),
	)
	if err != nil {
		log.WithError(err).Fatal("error while opening pubsub db")
	}
	pubsubSvc := pubsub.NewService(webhooks)

	enclaveKey, _ := config.GetEnclavePubkey()
	measurementPolicy, _ := config.GetMeasurementPolicy()
	forfeitPolicy, _ := config.GetForfeitPolicy()
	registry, _ := config.GetChainRegistry()
	relayers, _ := config.GetAuthorizedRelayers()
	relayerKey, _ := config.GetRelayerKey()

	verifier, err := domain.NewAttestationVerifier(domain.AttestationVerifierConfig{
		EnclaveKey:      enclaveKey,
		FreshnessWindow: config.GetDuration(config.AttestationFreshnessKey),
		MaxClockSkew:    config.GetDuration(config.MaxClockSkewKey),
	})
	if err != nil {
		log.WithError(err).Fatal("error while initializing attestation verifier")
	}

	complianceSvc, err := compliance.NewService(
		repoManager, verifier, measurementPolicy,
		config.GetDuration(config.ComplianceValidityKey), nil,
	)
	if err != nil {
		log.WithError(err).Fatal("error while initializing compliance service")
	}
	escrowSvc, err := escrow.NewService(repoManager, pubsubSvc, forfeitPolicy, nil)
	if err != nil {
		log.WithError(err).Fatal("error while initializing escrow service")
	}
	auctionSvc, err := auction.NewService(
		repoManager, escrowSvc, complianceSvc, pubsubSvc, auction.Config{
			Verifier:            verifier,
			Policy:              measurementPolicy,
			AutoFinalizeEscrows: config.GetBool(config.AutoFinalizeEscrowsKey),
			SweepInterval:       config.GetDuration(config.SweepIntervalKey),
		},
	)
	if err != nil {
		log.WithError(err).Fatal("error while initializing auction service")
	}

	var executor ports.SettlementExecutor
	switch config.GetString(config.ExecutorTypeKey) {
	case config.ExecutorSimulated:
		executor = simulated.NewChains(relayers)
	default:
		executor, err = evm.NewExecutor(relayerKey)
		if err != nil {
			log.WithError(err).Fatal("error while initializing evm executor")
		}
	}

	relayCfg := relay.Config{
		Registry:            registry,
		AuthorizedRelayers:  relayers,
		AttemptTimeout:      config.GetDuration(config.RelayTimeoutKey),
		AttemptLease:        config.GetDuration(config.RelayLeaseKey),
		MaxDeliveryAttempts: config.GetInt(config.MaxDeliveryAttemptsKey),
		RetryInterval:       config.GetDuration(config.RetryIntervalKey),
		RetryRate:           config.GetInt(config.RetryRateKey),
	}
	if relayerKey != nil {
		relayCfg.Signer = domain.NewKeySigner(relayerKey)
	}
	relaySvc, err := relay.NewService(
		repoManager, auctionSvc, executor, pubsubSvc, relayCfg,
	)
	if err != nil {
		log.WithError(err).Fatal("error while initializing relay service")
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.MustRegister(auction.Collectors()...)
	metrics.MustRegister(escrow.Collectors()...)
	metrics.MustRegister(relay.Collectors()...)

	httpSvc, err := httpinterface.NewService(httpinterface.ServiceOpts{
		Address:         fmt.Sprintf(":%d", config.GetInt(config.ListeningPortKey)),
		TLSDir:          config.GetTLSDatadir(),
		ExtraIPs:        config.GetStringSlice(config.ExtraIPKey),
		ExtraDomains:    config.GetStringSlice(config.ExtraDomainKey),
		OperatorSecret:  []byte(config.GetString(config.OperatorSecretKey)),
		MetricsGatherer: metrics,
		AuctionSvc:      auctionSvc,
		EscrowSvc:       escrowSvc,
		ComplianceSvc:   complianceSvc,
		RelaySvc:        relaySvc,
		PubSubSvc:       pubsubSvc,
	})
	if err != nil {
		log.WithError(err).Fatal("error while initializing http interface")
	}

	log.Info("starting daemon")

	auctionSvc.Start()
	relaySvc.Start()
	if err := httpSvc.Start(); err != nil {
		log.WithError(err).Fatal("error while starting http interface")
	}

	defer func() {
		httpSvc.Stop()
		relaySvc.Stop()
		auctionSvc.Stop()
		pubsubSvc.Close()
		repoManager.Close()
		log.Info("daemon stopped")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down daemon")
}

func newRepoManager(datadir string) (ports.RepoManager, error) {
	switch config.GetString(config.DBTypeKey) {
	case config.DBInMemory:
		log.Warn("using in-memory db, state is lost on shutdown")
		return inmemory.NewRepoManager(), nil
	case config.DBPostgres:
		return postgresdb.NewService(postgresdb.DbConfig{
			DataSourceURL: config.GetString(config.PgConnectAddrKey),
			MaxConns:      config.GetInt(config.PgMaxConnsKey),
		})
	default:
		return dbbadger.NewRepoManager(
			filepath.Join(datadir, config.DbLocation),
			dbbadger.NewLogger(log.WithField("module", "db")),
		)
	}
}
