package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AniketPatel369/p2p/daemon/transport"
	"github.com/AniketPatel369/p2p/internal/chunker"
	"github.com/AniketPatel369/p2p/internal/handshake"
	"github.com/AniketPatel369/p2p/internal/identity"
	"github.com/AniketPatel369/p2p/internal/observability"
	"github.com/AniketPatel369/p2p/internal/quicutil"
	"github.com/AniketPatel369/p2p/internal/transfer"
	"github.com/AniketPatel369/p2p/internal/validation"
)

func main() {
	listen := flag.String("listen", ":4433", "Listen address (host:port)")
	outputDir := flag.String("output-dir", "./received", "Output directory for received files")
	keysDir := flag.String("keys-dir", defaultKeysDir(), "Device identity directory")
	maxSkewSecs := flag.Int64("max-skew", 30, "Max allowed handshake timestamp skew, in seconds")
	flag.Parse()

	if shutdown, err := observability.InitTracing(context.Background(), "p2p-quic-recv"); err == nil {
		defer shutdown(context.Background())
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
		os.Exit(1)
	}
	if err := validation.FilePath(*outputDir, true); err != nil {
		fmt.Fprintf(os.Stderr, "Output directory is not usable: %v\n", err)
		os.Exit(1)
	}

	if err := receive(*listen, *outputDir, *keysDir, *maxSkewSecs); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultKeysDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "p2p", "keys")
}

// receive listens for one inbound QUIC connection, runs the handshake as the
// server side, and streams the sender's manifest down to disk in outputDir.
// A one-shot CLI driver doesn't need the daemon's session store or LAN
// policy gating, but it reuses the same handshake, framing, and transport
// packages the long-running daemon does.
func receive(listen, outputDir, keysDir string, maxSkewSecs int64) error {
	serverID, err := loadOrGenerateIdentity(keysDir)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	fmt.Printf("Receiver fingerprint: %s\n", serverID.Fingerprint())

	certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
	if err != nil {
		return fmt.Errorf("generate certificate: %w", err)
	}
	tlsConfig, err := quicutil.MakeTLSConfig(certPEM, keyPEM)
	if err != nil {
		return fmt.Errorf("build tls config: %w", err)
	}
	tlsConfig.NextProtos = []string{"p2p-transfer"}

	listener, err := transport.ListenQUIC(listen, tlsConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer listener.Close()
	fmt.Printf("QUIC receiver listening on %s\n", listen)

	ctx := context.Background()
	conn, err := listener.Accept(ctx)
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()
	fmt.Printf("Accepted connection from %s\n", conn.GetConnection().RemoteAddr())

	return handleTransfer(ctx, conn, serverID, outputDir, maxSkewSecs)
}

func handleTransfer(ctx context.Context, conn *transport.QUICConnection, serverID *identity.DeviceIdentity, outputDir string, maxSkewSecs int64) error {
	ctrl, err := conn.AcceptControlStream(ctx)
	if err != nil {
		return fmt.Errorf("accept control stream: %w", err)
	}

	clientHello, err := ctrl.ReceiveClientHello()
	if err != nil {
		return fmt.Errorf("receive client hello: %w", err)
	}
	if err := handshake.VerifyClientHello(clientHello, uint64(maxSkewSecs), uint64(time.Now().Unix())); err != nil {
		return fmt.Errorf("verify client hello: %w", err)
	}

	serverHello, err := handshake.CreateServerHello(serverID.Fingerprint(), serverID, clientHello)
	if err != nil {
		return fmt.Errorf("build server hello: %w", err)
	}
	if err := ctrl.SendServerHello(serverHello); err != nil {
		return fmt.Errorf("send server hello: %w", err)
	}
	fmt.Println("Handshake complete")

	sessionKeys := handshake.DeriveSessionKeys(
		clientHello.PublicKeyB64, serverHello.PublicKeyB64,
		clientHello.Nonce, serverHello.ServerNonce,
		false,
	)

	signed, err := ctrl.ReceiveSignedManifest()
	if err != nil {
		return fmt.Errorf("receive manifest: %w", err)
	}
	var mf chunker.Manifest
	if err := json.Unmarshal(signed.ManifestJSON, &mf); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	fmt.Printf("Manifest %s: %s, %d bytes across %d chunks\n", mf.SessionID, mf.FileName, mf.FileSize, mf.ChunkCount)

	outputPath, err := validation.SafeJoin(outputDir, mf.FileName)
	if err != nil {
		return fmt.Errorf("rejected manifest file name: %w", err)
	}

	transferID := transfer.IntegrityTag([]byte(mf.SessionID))
	mgr, err := transfer.NewLargeFileManager(transferID, mf.FileSize, int64(mf.ChunkSize))
	if err != nil {
		return fmt.Errorf("create large file manager: %w", err)
	}

	onChunkReceived := func(chunkIndex uint32) {
		acked := mgr.NextChunk()
		fmt.Printf("chunk %d/%d received\n", acked, mf.ChunkCount)
	}

	receiver, err := transport.NewChunkReceiver(
		conn.GetConnection(), sessionKeys, transferID, serverID.Fingerprint(),
		outputPath, int64(mf.ChunkSize), mgr, ctrl, onChunkReceived, nil, nil,
	)
	if err != nil {
		return fmt.Errorf("create chunk receiver: %w", err)
	}
	defer receiver.Close()

	if err := receiver.AcceptAndProcessStreams(ctx); err != nil {
		fmt.Printf("chunk receive loop ended: %v\n", err)
	}

	fmt.Printf("Transfer complete, saved to %s\n", outputPath)
	return nil
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
	if err := os.MkdirAll(keysDir, 0o700); err != nil {
		return nil, err
	}
	if err := id.Save(keyPath); err != nil {
		return nil, err
	}
	return id, nil
}
