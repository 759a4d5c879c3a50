package syncsession

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/robcohen/peervault/pkg/blobstore"
	"github.com/robcohen/peervault/pkg/docmodel"
	"github.com/robcohen/peervault/pkg/events"
	"github.com/robcohen/peervault/pkg/log"
	"github.com/robcohen/peervault/pkg/metrics"
	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/transport"
	"github.com/robcohen/peervault/pkg/types"
)

// Config tunes one Session's timeouts and backpressure limits.
type Config struct {
	LocalNodeID string
	Hostname    string
	Nickname    string

	HandshakeTimeout    time.Duration
	SyncResponseTimeout time.Duration
	BlobFrameTimeout    time.Duration
	CloseDrainTimeout   time.Duration

	OutgoingQueueSize  int
	BlobInFlightWindow int
	MaxBlobRetries     int
}

func DefaultConfig(localNodeID string) Config {
	return Config{
		LocalNodeID:         localNodeID,
		HandshakeTimeout:    15 * time.Second,
		SyncResponseTimeout: 30 * time.Second,
		BlobFrameTimeout:    30 * time.Second,
		CloseDrainTimeout:   2 * time.Second,
		OutgoingQueueSize:   64,
		BlobInFlightWindow:  4,
		MaxBlobRetries:      3,
	}
}

// Session drives the per-peer wire protocol over an
// already-connected transport.Stream: handshake, initial sync, blob
// catch-up, then a steady state of incremental updates and acks.
type Session struct {
	cfg     Config
	vaultID string
	stream  transport.Stream
	docs    *docmodel.Manager
	blobs   *blobstore.Store
	broker  *events.Broker
	onEdits func([]docmodel.EditRecord)
	logger  zerolog.Logger

	mu             sync.Mutex
	state          State
	peerID         string
	peerHostname   string
	peerNickname   string
	lastPeerAck    types.VersionVector
	blobRetryCount map[string]int

	writeMu sync.Mutex

	outgoing chan []byte

	handshakeCh    chan handshakePayload
	syncResponseCh chan syncResponsePayload
	blobHaveCh     chan blobHavePayload

	pendingBlobsMu sync.Mutex
	pendingBlobs   map[string]chan struct{}

	closeOnce sync.Once
	closeErr  error

	idleOnce sync.Once
	idleCh   chan struct{}
}

// New builds a Session around an already-connected stream. onEdits, if
// non-nil, is invoked with every remote edit observed during sync so a
// caller (typically PeerManager) can feed pkg/conflict's Tracker
// without Session importing it directly.
func New(stream transport.Stream, docs *docmodel.Manager, blobs *blobstore.Store, broker *events.Broker, vaultID string, cfg Config, onEdits func([]docmodel.EditRecord)) *Session {
	return &Session{
		cfg:            cfg,
		vaultID:        vaultID,
		stream:         stream,
		docs:           docs,
		blobs:          blobs,
		broker:         broker,
		onEdits:        onEdits,
		logger:         log.WithComponent("syncsession"),
		state:          StateConnecting,
		blobRetryCount: make(map[string]int),
		outgoing:       make(chan []byte, cfg.OutgoingQueueSize),
		handshakeCh:    make(chan handshakePayload, 1),
		syncResponseCh: make(chan syncResponsePayload, 1),
		blobHaveCh:     make(chan blobHavePayload, 1),
		pendingBlobs:   make(map[string]chan struct{}),
		idleCh:         make(chan struct{}),
	}
}

// Idle closes once this Session reaches StateIdle for the first time
// (initial sync and blob catch-up complete). PeerManager's syncPeer
// waits on it to know when to return control to its caller, even
// though the session itself keeps running afterward for steady-state
// unsolicited updates.
func (s *Session) Idle() <-chan struct{} {
	return s.idleCh
}

// PeerID returns the remote node id learned during handshake, empty
// before handshake completes.
func (s *Session) PeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// LastPeerAck returns the most recent version vector the remote peer
// has acknowledged, zero-value if no ack has landed yet. PeerManager
// reads this after the session ends to record how far the peer has
// actually synced.
func (s *Session) LastPeerAck() types.VersionVector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPeerAck.Clone()
}

// PushUpdate enqueues local-edit bytes for unsolicited transmission to
// the peer. It blocks once the outgoing queue is full (default 64
// frames), the natural backpressure point for a slow peer.
func (s *Session) PushUpdate(ctx context.Context, data []byte) error {
	frame, err := encodeFrame(KindUpdate, updatePayload{Data: data})
	if err != nil {
		return err
	}
	select {
	case s.outgoing <- frame:
		return nil
	case <-ctx.Done():
		return peverr.Cancel()
	}
}

// Run drives the session to completion: handshake, initial sync, blob
// catch-up, then steady state until ctx is cancelled or a fatal error
// occurs. It always returns with the stream closed.
func (s *Session) Run(ctx context.Context) error {
	timer := metrics.NewTimer()
	outcome := "ok"
	defer func() {
		metrics.SyncsTotal.WithLabelValues(outcome).Inc()
		timer.ObserveDurationVec(metrics.SyncDuration, outcome)
	}()

	readErrCh := make(chan error, 1)
	go s.readLoop(ctx, readErrCh)
	go s.writeLoop(ctx)

	s.setState(StateHandshaking)
	if err := s.handshake(ctx); err != nil {
		outcome = classifyOutcome(err)
		s.setState(StateError)
		_ = s.Close(ctx)
		return err
	}

	s.setState(StateSyncing)
	if err := s.initialSync(ctx); err != nil {
		outcome = classifyOutcome(err)
		s.setState(StateError)
		_ = s.Close(ctx)
		return err
	}
	if err := s.blobCatchUp(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("blob catch-up did not complete")
	}

	s.setState(StateIdle)
	s.idleOnce.Do(func() { close(s.idleCh) })
	if s.broker != nil {
		s.broker.Publish(&events.Event{Type: events.EventPeerSynced, NodeID: s.PeerID(), Message: "initial sync complete"})
	}

	select {
	case <-ctx.Done():
		outcome = "cancelled"
	case err := <-readErrCh:
		if err != nil {
			outcome = classifyOutcome(err)
			s.setState(StateError)
		}
	}

	closeErr := s.Close(ctx)
	if closeErr != nil && outcome == "ok" {
		outcome = "error"
	}
	return closeErr
}

func classifyOutcome(err error) string {
	switch {
	case peverr.Is(err, peverr.Cancelled):
		return "cancelled"
	case peverr.Is(err, peverr.Transient):
		return "transient-error"
	default:
		return "error"
	}
}

// Close tears the session down: it stops accepting new outgoing
// frames, drains writes already queued up to CloseDrainTimeout, then
// closes the underlying stream.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseDrainTimeout)
		defer cancel()
	drain:
		for {
			select {
			case frame := <-s.outgoing:
				_ = s.rawSend(drainCtx, frame)
			default:
				break drain
			}
		}
		s.closeErr = s.stream.Close()
		s.setState(StateDisconnected)
	})
	return s.closeErr
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case frame, ok := <-s.outgoing:
			if !ok {
				return
			}
			if err := s.rawSend(ctx, frame); err != nil {
				s.logger.Warn().Err(err).Msg("failed to send queued update")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) readLoop(ctx context.Context, errCh chan<- error) {
	for {
		raw, err := s.stream.Recv(ctx)
		if err != nil {
			errCh <- err
			return
		}
		kind, body, err := decodeFrame(raw)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping unparseable frame")
			continue
		}
		s.handleFrame(ctx, kind, body)
	}
}

func (s *Session) send(ctx context.Context, kind Kind, payload any) error {
	frame, err := encodeFrame(kind, payload)
	if err != nil {
		return err
	}
	return s.rawSend(ctx, frame)
}

func (s *Session) rawSend(ctx context.Context, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.stream.Send(ctx, frame)
}

func (s *Session) handleFrame(ctx context.Context, kind Kind, body []byte) {
	switch kind {
	case KindHandshake:
		var hs handshakePayload
		if err := unmarshalPayload(kind, body, &hs); err != nil {
			s.logger.Warn().Err(err).Msg("malformed handshake frame")
			return
		}
		select {
		case s.handshakeCh <- hs:
		default:
		}
	case KindSyncRequest:
		s.respondSyncRequest(ctx, body)
	case KindSyncResponse:
		var resp syncResponsePayload
		if err := unmarshalPayload(kind, body, &resp); err != nil {
			s.logger.Warn().Err(err).Msg("malformed sync-response frame")
			return
		}
		select {
		case s.syncResponseCh <- resp:
		default:
		}
	case KindUpdate:
		s.handleUpdate(ctx, body)
	case KindAck:
		var ack ackPayload
		if err := unmarshalPayload(kind, body, &ack); err != nil {
			return
		}
		s.mu.Lock()
		s.lastPeerAck = ack.VersionVector
		s.mu.Unlock()
	case KindBlobRequest:
		s.handleBlobRequest(ctx, body)
	case KindBlobHave:
		var have blobHavePayload
		if err := unmarshalPayload(kind, body, &have); err != nil {
			return
		}
		select {
		case s.blobHaveCh <- have:
		default:
		}
	case KindBlobTransfer:
		s.handleBlobTransfer(ctx, body)
	case KindBlobAck:
		s.handleBlobAck(ctx, body)
	case KindError:
		var ep errorPayload
		if err := unmarshalPayload(kind, body, &ep); err == nil {
			s.logger.Warn().Str("code", string(ep.Code)).Str("message", ep.Message).Msg("peer reported error")
		}
	default:
		s.logger.Warn().Int("kind", int(kind)).Msg("unknown frame kind")
	}
}

func (s *Session) handshake(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	local := handshakePayload{
		ProtocolVersion: protocolVersion,
		PeerID:          s.cfg.LocalNodeID,
		VaultID:         s.vaultID,
		Hostname:        s.cfg.Hostname,
		Nickname:        s.cfg.Nickname,
		VersionVector:   s.docs.CurrentVersion(),
	}
	if err := s.send(ctx, KindHandshake, local); err != nil {
		return err
	}

	select {
	case hs := <-s.handshakeCh:
		if hs.VaultID != s.vaultID {
			_ = s.send(ctx, KindError, errorPayload{Code: errCodeVaultMismatch, Message: "vault id mismatch"})
			return peverr.Fatalf("peer vault %q does not match local vault %q", hs.VaultID, s.vaultID)
		}
		if hs.ProtocolVersion != protocolVersion {
			_ = s.send(ctx, KindError, errorPayload{Code: errCodeIncompatible, Message: "incompatible protocol version"})
			return peverr.VersionMismatch("peer protocol version %d incompatible with local %d", hs.ProtocolVersion, protocolVersion)
		}
		s.mu.Lock()
		s.peerID = hs.PeerID
		s.peerHostname = hs.Hostname
		s.peerNickname = hs.Nickname
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		return peverr.TransientWrap(ctx.Err(), "handshake timed out")
	}
}

func (s *Session) initialSync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SyncResponseTimeout)
	defer cancel()

	if err := s.send(ctx, KindSyncRequest, syncRequestPayload{VersionVector: s.docs.CurrentVersion()}); err != nil {
		return err
	}

	select {
	case resp := <-s.syncResponseCh:
		if len(resp.Updates) > 0 {
			result, err := s.docs.Import(resp.Updates, docmodel.ImportOrigin{PeerID: s.PeerID()})
			if err != nil {
				return err
			}
			if s.onEdits != nil && len(result.Edits) > 0 {
				s.onEdits(result.Edits)
			}
		}
		return s.send(ctx, KindAck, ackPayload{VersionVector: s.docs.CurrentVersion()})
	case <-ctx.Done():
		return peverr.TransientWrap(ctx.Err(), "sync-response timed out")
	}
}

func (s *Session) respondSyncRequest(ctx context.Context, body []byte) {
	var req syncRequestPayload
	if err := unmarshalPayload(KindSyncRequest, body, &req); err != nil {
		s.logger.Warn().Err(err).Msg("malformed sync-request frame")
		return
	}
	delta, err := s.docs.ExportDelta(req.VersionVector)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to export delta for peer")
		_ = s.send(ctx, KindError, errorPayload{Code: errCodeMalformed, Message: "failed to compute delta"})
		return
	}
	if err := s.send(ctx, KindSyncResponse, syncResponsePayload{Updates: delta, VersionVector: s.docs.CurrentVersion()}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to send sync-response")
	}
}

func (s *Session) handleUpdate(ctx context.Context, body []byte) {
	var up updatePayload
	if err := unmarshalPayload(KindUpdate, body, &up); err != nil {
		s.logger.Warn().Err(err).Msg("malformed update frame")
		return
	}
	result, err := s.docs.Import(up.Data, docmodel.ImportOrigin{PeerID: s.PeerID()})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to apply peer update")
		_ = s.send(ctx, KindError, errorPayload{Code: errCodeMalformed, Message: "failed to apply update"})
		return
	}
	if s.onEdits != nil && len(result.Edits) > 0 {
		s.onEdits(result.Edits)
	}
	if err := s.send(ctx, KindAck, ackPayload{VersionVector: s.docs.CurrentVersion()}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to ack update")
	}
}
