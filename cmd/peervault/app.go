package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/robcohen/peervault/pkg/blobstore"
	"github.com/robcohen/peervault/pkg/conflict"
	"github.com/robcohen/peervault/pkg/docmodel"
	"github.com/robcohen/peervault/pkg/engine"
	"github.com/robcohen/peervault/pkg/events"
	"github.com/robcohen/peervault/pkg/gc"
	"github.com/robcohen/peervault/pkg/log"
	"github.com/robcohen/peervault/pkg/metrics"
	"github.com/robcohen/peervault/pkg/peer"
	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/security"
	"github.com/robcohen/peervault/pkg/storage"
	"github.com/robcohen/peervault/pkg/transport"
	"github.com/robcohen/peervault/pkg/transport/tcp"
	"github.com/robcohen/peervault/pkg/types"

	cfgpkg "github.com/robcohen/peervault/pkg/config"
)

// vault bundles one node's open collaborators into the hub every
// subcommand's RunE builds on.
type vault struct {
	store     storage.Adapter
	identity  *transport.ReplicaIdentity
	transport *tcp.Transport
	docs      *docmodel.Manager
	blobs     *blobstore.Store
	broker    *events.Broker
	conflicts *conflict.Tracker
	peers     *peer.Manager
	gc        *gc.Collector
	metrics   *metrics.Collector
}

// openVault wires every collaborator without starting any background
// loop; start does that. Callers that only need a one-shot action
// (e.g. "peer list") can call close immediately after reading what
// they need; callers that run a daemon ("serve") call start and keep
// it open until a shutdown signal.
func openVault(ctx context.Context, cfg cfgpkg.Config) (*vault, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	raw, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}

	identity, err := loadOrCreateIdentity(ctx, raw)
	if err != nil {
		return nil, err
	}
	localNodeID := identity.Cert.Subject.CommonName

	broker := events.NewBroker()
	broker.Start()

	eng := engine.New(types.ReplicaID(localNodeID))
	docs := docmodel.New(eng, raw, broker)
	if err := docs.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize document: %w", err)
	}

	blobs := blobstore.New(raw)
	conflicts := conflict.NewTracker(conflict.DefaultConfig())

	tr := tcp.New(identity, cfg.ListenAddr, []string{cfg.ListenAddr})

	peerCfg := peer.DefaultConfig(localNodeID)
	peerCfg.AutoSyncInterval = cfg.AutoSyncInterval()
	peers := peer.New(peerCfg, tr, docs, blobs, raw, broker, conflicts, nil)

	gcCollector := gc.NewCollector(cfg.GC.ToGCConfig(), docs, blobs, peers, broker)
	metricsCollector := metrics.NewCollector(peers, docs)

	return &vault{
		store:     raw,
		identity:  identity,
		transport: tr,
		docs:      docs,
		blobs:     blobs,
		broker:    broker,
		conflicts: conflicts,
		peers:     peers,
		gc:        gcCollector,
		metrics:   metricsCollector,
	}, nil
}

// start begins the peer manager's accept/autosync loops, the GC
// ticker, and the metrics poller. Only "serve" needs this; one-shot
// commands act on the opened vault without starting background work.
func (v *vault) start(ctx context.Context) error {
	if err := v.peers.Initialize(ctx); err != nil {
		return fmt.Errorf("start peer manager: %w", err)
	}
	v.gc.Start()
	v.metrics.Start()
	return nil
}

// close persists the document and peer roster and releases the
// storage handle. It tolerates peers.Shutdown being called whether or
// not start() was ever invoked.
func (v *vault) close(ctx context.Context) error {
	v.gc.Stop()
	v.metrics.Stop()
	if err := v.peers.Shutdown(ctx); err != nil {
		log.WithComponent("cli").Warn().Err(err).Msg("peer manager shutdown reported an error")
	}
	if err := v.docs.Save(ctx); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	v.broker.Stop()
	return v.store.Close()
}

func openStorage(cfg cfgpkg.Config) (storage.Adapter, error) {
	dbPath := filepath.Join(cfg.DataDir, "peervault.db")
	bolt, err := storage.NewBoltAdapter(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open vault database: %w", err)
	}
	if !cfg.EncryptionEnabled {
		return bolt, nil
	}

	key, err := loadOrCreateEncryptionKey(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	enc, err := storage.NewEncryptedStorage(bolt, key)
	if err != nil {
		return nil, fmt.Errorf("wrap storage with encryption: %w", err)
	}
	return enc, nil
}

// loadOrCreateEncryptionKey keeps the AES key in a sibling file
// outside the bolt store it protects: storing the key inside the
// store it decrypts is circular, and key custody is otherwise left to
// the embedder.
func loadOrCreateEncryptionKey(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, "vault.key")
	if data, err := os.ReadFile(path); err == nil {
		if len(data) != security.KeySize {
			return nil, fmt.Errorf("vault key at %s has unexpected length %d", path, len(data))
		}
		return data, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read vault key: %w", err)
	}

	key, err := security.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate vault key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write vault key: %w", err)
	}
	return key, nil
}

// loadOrCreateIdentity loads the persisted replica identity, or
// generates a fresh one with a random node id. The node id is
// independent of cfg.VaultName (a human display label set per
// pairing via AddPeer's nickname argument) since it is exchanged in
// every invite ticket and must stay stable for the life of the vault.
func loadOrCreateIdentity(ctx context.Context, store storage.Adapter) (*transport.ReplicaIdentity, error) {
	raw, err := store.Read(ctx, storage.KeyTransportKey)
	switch {
	case err == nil:
		return transport.LoadReplicaIdentity(raw)
	case err == peverr.ErrNotFound:
		// fall through to generate a fresh identity
	default:
		return nil, fmt.Errorf("read replica identity: %w", err)
	}

	identity, err := transport.NewReplicaIdentity(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("generate replica identity: %w", err)
	}
	data, err := identity.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal replica identity: %w", err)
	}
	if err := store.Write(ctx, storage.KeyTransportKey, data); err != nil {
		return nil, fmt.Errorf("persist replica identity: %w", err)
	}
	return identity, nil
}
