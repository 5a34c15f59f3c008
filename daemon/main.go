package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/AniketPatel369/p2p/daemon/config"
	"github.com/AniketPatel369/p2p/daemon/manager"
	"github.com/AniketPatel369/p2p/daemon/transport"
	"github.com/AniketPatel369/p2p/internal/chunker"
	"github.com/AniketPatel369/p2p/internal/handshake"
	"github.com/AniketPatel369/p2p/internal/identity"
	"github.com/AniketPatel369/p2p/internal/lanpolicy"
	"github.com/AniketPatel369/p2p/internal/natplan"
	"github.com/AniketPatel369/p2p/internal/observability"
	"github.com/AniketPatel369/p2p/internal/quicutil"
	"github.com/AniketPatel369/p2p/internal/ratelimit"
	"github.com/AniketPatel369/p2p/internal/transfer"
	"github.com/AniketPatel369/p2p/internal/validation"
)

func main() {
	quicAddr := flag.String("quic-addr", "", "QUIC listener address (overrides config default)")
	observAddr := flag.String("observ-addr", "127.0.0.1:8081", "Observability server address (metrics, health, pprof)")
	outputDir := flag.String("output-dir", "./received", "Directory incoming transfers are written to")
	flag.Parse()

	logger := observability.NewLogger("p2p-daemon", "1.0.0", os.Stdout)
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker("1.0.0")

	if shutdown, err := observability.InitTracing(context.Background(), "p2p-daemon"); err == nil {
		defer shutdown(context.Background())
	}

	logger.Info("p2p daemon starting")

	cfg, err := config.LoadConfig("")
	if err != nil {
		logger.Fatal(err, "failed to load config")
	}
	if *quicAddr != "" {
		cfg.QUICAddress = *quicAddr
	}
	if err := validation.ListenAddr(cfg.QUICAddress); err != nil {
		logger.Fatal(err, "invalid QUIC listen address")
	}
	if err := validation.ListenAddr(*observAddr); err != nil {
		logger.Fatal(err, "invalid observability listen address")
	}

	logger.Info(fmt.Sprintf("QUIC address: %s, chunk size: %d, workers: %d", cfg.QUICAddress, cfg.ChunkSize, cfg.WorkerCount))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		logger.Fatal(err, "failed to create output directory")
	}
	if err := validation.FilePath(*outputDir, true); err != nil {
		logger.Fatal(err, "output directory is not usable")
	}

	serverID, err := loadOrGenerateIdentity(cfg.KeysDirectory)
	if err != nil {
		logger.Fatal(err, "failed to load or generate device identity")
	}
	logger.Info("device identity fingerprint: " + serverID.Fingerprint())

	policy := lanpolicy.Default()
	policy.OfflineMode = cfg.OfflineMode
	replayGuard := handshake.NewReplayGuard(time.Duration(cfg.ReplayGuardTTLSecs) * time.Second)
	sessionStore := manager.NewSessionStore()

	dbPath := filepath.Join(cfg.KeysDirectory, "sessions.db")
	persistentStore, err := manager.NewPersistentStore(dbPath)
	if err != nil {
		logger.Fatal(err, "failed to open persistent session store")
	}
	defer persistentStore.Close()
	if _, total, err := persistentStore.ListSessions(nil, 1000, 0); err == nil && total > 0 {
		logger.Info(fmt.Sprintf("recovered %d persisted session records from %s", total, dbPath))
	}

	healthChecker.RegisterCheck("quic_listener", observability.QUICListenerCheck(cfg.QUICAddress))
	healthChecker.RegisterCheck("keystore", observability.KeystoreCheck(true))
	healthChecker.RegisterCheck("disk_space", observability.DiskSpaceCheck(*outputDir, 1))
	healthChecker.RegisterCheck("session_store", observability.DatabaseCheck(persistentStore.Ping))

	certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
	if err != nil {
		logger.Fatal(err, "failed to generate TLS certificate")
	}
	tlsConfig, err := quicutil.MakeTLSConfig(certPEM, keyPEM)
	if err != nil {
		logger.Fatal(err, "failed to build TLS config")
	}
	tlsConfig.NextProtos = []string{"p2p-transfer"}

	quicListener, err := transport.ListenQUIC(cfg.QUICAddress, tlsConfig)
	if err != nil {
		logger.Fatal(err, "failed to start QUIC listener")
	}
	defer quicListener.Close()
	logger.Info("QUIC listener started on " + cfg.QUICAddress)

	go startObservabilityServer(*observAddr, metrics, healthChecker, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tb := ratelimit.NewTokenBucket(50, 100)

	go func() {
		for {
			if err := tb.Wait(ctx, 1); err != nil {
				return
			}

			conn, err := quicListener.Accept(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error(err, "failed to accept QUIC connection")
				metrics.RecordQUICConnection(false)
				continue
			}

			logger.ConnectionEstablished(conn.GetConnection().RemoteAddr().String(), serverID.Fingerprint())
			metrics.RecordQUICConnection(true)

			go handleConnection(ctx, conn, serverID, cfg, policy, replayGuard, *outputDir, sessionStore, persistentStore, logger, metrics)
		}
	}()

	logger.Info("p2p daemon running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully")
	cancel()

	cleanedUp := sessionStore.CleanupOldSessions(24 * time.Hour)
	logger.Info(fmt.Sprintf("cleaned up %d old sessions", cleanedUp))
	logger.Info("daemon stopped")
}

func loadOrGenerateIdentity(keysDir string) (*identity.DeviceIdentity, error) {
	keyPath := filepath.Join(keysDir, "identity.key")
	if id, err := identity.Load(keyPath); err == nil {
		return id, nil
	}
	id, err := identity.Generate()
	if err != nil {
		return nil, err
	}
	if err := id.Save(keyPath); err != nil {
		return nil, err
	}
	return id, nil
}

func startObservabilityServer(addr string, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", health.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	server := &http.Server{Addr: addr, Handler: mux}
	logger.Info("observability server listening on " + addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "observability server error")
	}
}

// handleConnection runs one inbound peer through LAN-policy gating, the
// handshake, manifest receipt, and the chunk-receive loop.
func handleConnection(
	ctx context.Context,
	conn *transport.QUICConnection,
	serverID *identity.DeviceIdentity,
	cfg *config.Config,
	policy lanpolicy.Policy,
	replayGuard *handshake.ReplayGuard,
	outputDir string,
	sessionStore *manager.SessionStore,
	persistentStore *manager.PersistentStore,
	logger *observability.Logger,
	metrics *observability.Metrics,
) {
	defer conn.Close()

	remoteAddr := conn.GetConnection().RemoteAddr()
	decision := policy.EvaluatePeer(remoteAddr)
	if !decision.Allowed {
		logger.Warn(fmt.Sprintf("peer %s denied by lan policy: %s", remoteAddr, decision.Reason))
		recordPolicyDenial(metrics, remoteAddr)
		return
	}

	recordRouteDecision(conn, metrics)

	ctrl, err := conn.AcceptControlStream(ctx)
	if err != nil {
		logger.Error(err, "failed to accept control stream")
		return
	}

	clientHello, err := ctrl.ReceiveClientHello()
	if err != nil {
		logger.Error(err, "failed to receive client hello")
		metrics.RecordHandshake("failed")
		return
	}

	now := uint64(time.Now().Unix())
	if err := handshake.VerifyClientHello(clientHello, uint64(cfg.HandshakeMaxSkewSecs), now); err != nil {
		logger.Error(err, "client hello verification failed")
		metrics.RecordHandshake("failed")
		return
	}
	if !replayGuard.CheckAndRemember(clientHello.Nonce, time.Now()) {
		logger.Warn("rejected replayed client hello nonce")
		metrics.RecordReplayRejection()
		return
	}

	serverHello, err := handshake.CreateServerHello(serverID.Fingerprint(), serverID, clientHello)
	if err != nil {
		logger.Error(err, "failed to build server hello")
		return
	}
	if err := ctrl.SendServerHello(serverHello); err != nil {
		logger.Error(err, "failed to send server hello")
		return
	}
	metrics.RecordHandshake("success")

	sessionKeys := handshake.DeriveSessionKeys(
		clientHello.PublicKeyB64, serverHello.PublicKeyB64,
		clientHello.Nonce, serverHello.ServerNonce,
		false,
	)

	signed, err := ctrl.ReceiveSignedManifest()
	if err != nil {
		logger.Error(err, "failed to receive manifest")
		return
	}
	var mf chunker.Manifest
	if err := json.Unmarshal(signed.ManifestJSON, &mf); err != nil {
		logger.Error(err, "failed to parse manifest")
		return
	}

	transferID := transfer.IntegrityTag([]byte(mf.SessionID))
	receiverID := serverID.Fingerprint()
	outputPath, err := validation.SafeJoin(outputDir, mf.FileName)
	if err != nil {
		logger.Error(err, "rejected manifest file name")
		return
	}

	mgr, err := transfer.NewLargeFileManager(transferID, mf.FileSize, int64(mf.ChunkSize))
	if err != nil {
		logger.Error(err, "failed to create large file manager")
		return
	}

	sess := manager.NewSession(mf.SessionID, transferID, receiverID, outputPath, mf.FileName, mf.FileSize, int64(mf.ChunkSize), manager.DirectionReceive)
	if err := sessionStore.Add(sess); err != nil {
		logger.Error(err, "failed to register session")
		return
	}
	_ = sess.TransitionTo(manager.StateActive, "")
	logger.TransferStarted(mf.SessionID, outputPath, mf.FileSize, mf.ChunkCount)
	if err := persistentStore.SaveSession(sess); err != nil {
		logger.Error(err, "failed to persist session record")
	}

	onChunkReceived := func(chunkIndex uint32) {
		acked := mgr.NextChunk()
		sess.UpdateProgress(int64(acked)*int64(mf.ChunkSize), acked)
		if mgr.NextChunk() >= mgr.TotalChunks() {
			_ = sess.TransitionTo(manager.StateCompleted, "")
			logger.TransferCompleted(mf.SessionID, mf.FileSize, mf.ChunkCount, time.Since(sess.StartTime), int64(sess.GetTransferRate()), false)
			if err := persistentStore.SaveSession(sess); err != nil {
				logger.Error(err, "failed to persist completed session record")
			}

			fanout := sessionStore.ByTransferID(transferID)
			done := 0
			for _, s := range fanout {
				if s.GetState() == manager.StateCompleted {
					done++
				}
			}
			logger.Info(fmt.Sprintf("transfer %d: %d/%d receivers complete", transferID, done, len(fanout)))
		}
	}

	receiver, err := transport.NewChunkReceiver(
		conn.GetConnection(), sessionKeys, transferID, receiverID,
		outputPath, int64(mf.ChunkSize), mgr, ctrl, onChunkReceived, logger, metrics,
	)
	if err != nil {
		logger.Error(err, "failed to create chunk receiver")
		_ = sess.TransitionTo(manager.StateFailed, err.Error())
		_ = persistentStore.SaveSession(sess)
		return
	}
	defer receiver.Close()

	if err := receiver.AcceptAndProcessStreams(ctx); err != nil {
		logger.Info("chunk receive loop ended: " + err.Error())
	}
}

// recordPolicyDenial classifies remoteAddr for the lan_policy_denials_total
// metric label; an address that cannot be parsed is recorded as "unknown"
// rather than dropped silently.
func recordPolicyDenial(metrics *observability.Metrics, remoteAddr net.Addr) {
	host, _, err := net.SplitHostPort(remoteAddr.String())
	if err != nil {
		metrics.RecordLanPolicyDenial("unknown")
		return
	}
	ip := net.ParseIP(host)
	if ip == nil {
		metrics.RecordLanPolicyDenial("unknown")
		return
	}
	metrics.RecordLanPolicyDenial(lanpolicy.Classify(ip).String())
}

// recordRouteDecision runs the NAT connectivity planner over the accepted
// connection's local/remote sockets. On a LAN-first accept path there is no
// STUN/relay gathering yet, so both candidate sets carry only their local
// address; DecideRoute's default-direct branch is expected to dominate
// until real candidate gathering is wired in.
func recordRouteDecision(conn *transport.QUICConnection, metrics *observability.Metrics) {
	local := natplan.CandidateSet{Local: conn.GetConnection().LocalAddr().String()}
	remote := natplan.CandidateSet{Local: conn.GetConnection().RemoteAddr().String()}
	plan := natplan.DecideRoute(natplan.NatOpenInternet, natplan.NatOpenInternet, local, remote)
	metrics.RecordNatRouteDecision(plan.Route.String())
}
