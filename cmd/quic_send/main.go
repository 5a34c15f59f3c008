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
)

func main() {
	addr := flag.String("addr", "", "Receiver address (host:port)")
	filePath := flag.String("file", "", "File path to send")
	keysDir := flag.String("keys-dir", defaultKeysDir(), "Device identity directory")
	chunkSize := flag.Int("chunk-size", 1<<20, "Chunk size in bytes")
	workers := flag.Int("workers", 4, "Concurrent chunk-sending workers")
	flag.Parse()

	if shutdown, err := observability.InitTracing(context.Background(), "p2p-quic-send"); err == nil {
		defer shutdown(context.Background())
	}

	if *filePath == "" || *addr == "" {
		fmt.Fprintln(os.Stderr, "Usage: quic_send -addr host:port -file <path> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := send(*addr, *filePath, *keysDir, *chunkSize, *workers); err != nil {
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

func send(addr, filePath, keysDir string, chunkSize, workers int) error {
	clientID, err := loadOrGenerateIdentity(keysDir)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	fmt.Printf("Sender fingerprint: %s\n", clientID.Fingerprint())

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	manifest, err := chunker.ComputeManifest(filePath, chunker.ChunkOptions{ChunkSize: chunkSize})
	if err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}
	fmt.Printf("Session %s: %d bytes across %d chunks\n", manifest.SessionID, manifest.FileSize, manifest.ChunkCount)

	tlsConfig := quicutil.MakeClientTLSConfig()
	tlsConfig.NextProtos = []string{"p2p-transfer"}

	ctx := context.Background()
	conn, err := transport.DialQUIC(ctx, addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ctrl, err := conn.OpenControlStream(ctx)
	if err != nil {
		return fmt.Errorf("open control stream: %w", err)
	}

	clientHello, err := handshake.CreateClientHello(clientID.Fingerprint(), clientID)
	if err != nil {
		return fmt.Errorf("build client hello: %w", err)
	}
	if err := ctrl.SendClientHello(clientHello); err != nil {
		return fmt.Errorf("send client hello: %w", err)
	}

	serverHello, err := ctrl.ReceiveServerHello()
	if err != nil {
		return fmt.Errorf("receive server hello: %w", err)
	}
	if err := handshake.VerifyServerHello(clientHello.Nonce, serverHello, 30, uint64(time.Now().Unix())); err != nil {
		return fmt.Errorf("verify server hello: %w", err)
	}
	fmt.Println("Handshake complete")

	sessionKeys := handshake.DeriveSessionKeys(
		clientHello.PublicKeyB64, serverHello.PublicKeyB64,
		clientHello.Nonce, serverHello.ServerNonce,
		true,
	)

	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := ctrl.SendSignedManifestWithSigner(manifestJSON, clientID.Sign, clientID.VerifyingKey()); err != nil {
		return fmt.Errorf("send manifest: %w", err)
	}

	transferID := transfer.IntegrityTag([]byte(manifest.SessionID))
	session, err := transfer.NewTransferSession(transferID, data, chunkSize, []string{serverHello.DeviceID})
	if err != nil {
		return fmt.Errorf("create transfer session: %w", err)
	}

	done := make(chan struct{})
	pool := transport.NewChunkWorkerPool(
		workers, int(session.TotalChunks())+1, conn.GetConnection(), session, sessionKeys,
		func(chunkIndex uint32) {
			fmt.Printf("chunk %d/%d sent\n", chunkIndex+1, session.TotalChunks())
		},
		func(chunkIndex uint32, err error) {
			fmt.Fprintf(os.Stderr, "chunk %d failed: %v\n", chunkIndex, err)
		},
	)
	pool.SetScheduler(conn.Scheduler())
	pool.Start()

	go func() {
		for i := uint32(0); i < session.TotalChunks(); i++ {
			_ = pool.EnqueueChunk(i)
		}
		close(done)
	}()

	go drainAcks(ctrl, session)

	<-done
	// Give the last sends time to land on the wire before the pool stops.
	time.Sleep(200 * time.Millisecond)
	pool.Stop()

	fmt.Println("Transfer complete")
	return nil
}

// drainAcks applies incoming acks to session until the control stream
// closes, so a caller that wants to block on full completion can poll
// session.AllComplete().
func drainAcks(ctrl *transport.ControlStream, session *transfer.TransferSession) {
	for {
		ack, err := ctrl.ReceiveAck()
		if err != nil {
			return
		}
		_ = session.ApplyAck(ackFromMessage(ack))
		if session.AllComplete() {
			return
		}
	}
}

func ackFromMessage(msg *transport.AckMessage) (ack struct {
	TransferID        uint64
	ReceiverID        string
	NextExpectedChunk uint32
}) {
	ack.TransferID = msg.TransferID
	ack.ReceiverID = msg.ReceiverID
	ack.NextExpectedChunk = msg.NextExpectedChunk
	return ack
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
