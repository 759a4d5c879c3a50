package syncsession

import (
	"context"

	"github.com/robcohen/peervault/pkg/metrics"
)

// blobCatchUp requests any blob bytes referenced by the local document
// that aren't present yet.
func (s *Session) blobCatchUp(ctx context.Context) error {
	live := s.docs.LiveBlobHashes()
	missing, err := s.blobs.GetMissing(ctx, live)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SyncResponseTimeout)
	defer cancel()

	s.pendingBlobsMu.Lock()
	for _, h := range missing {
		s.pendingBlobs[h] = make(chan struct{}, 1)
	}
	s.pendingBlobsMu.Unlock()

	if err := s.send(ctx, KindBlobRequest, blobRequestPayload{Hashes: missing}); err != nil {
		return err
	}

	select {
	case have := <-s.blobHaveCh:
		// The peer doesn't have have.Missing either; drop those entries
		// now rather than leaking them for the life of the session.
		s.pendingBlobsMu.Lock()
		for _, h := range have.Missing {
			delete(s.pendingBlobs, h)
		}
		s.pendingBlobsMu.Unlock()
		return s.awaitBlobs(ctx, have.Available)
	case <-ctx.Done():
		return nil // best-effort: blobs still missing are requested again by the next session's catch-up
	}
}

func (s *Session) awaitBlobs(ctx context.Context, hashes []string) error {
	for _, h := range hashes {
		s.pendingBlobsMu.Lock()
		done := s.pendingBlobs[h]
		s.pendingBlobsMu.Unlock()
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// handleBlobRequest answers a peer's blob-request: report which
// hashes are locally available, then stream each available one as a
// single blob-transfer frame. Transfers run in a detached goroutine
// bounded by BlobInFlightWindow concurrent sends so this never blocks
// the read loop waiting on the acks it alone is responsible for
// receiving.
func (s *Session) handleBlobRequest(ctx context.Context, body []byte) {
	var req blobRequestPayload
	if err := unmarshalPayload(KindBlobRequest, body, &req); err != nil {
		s.logger.Warn().Err(err).Msg("malformed blob-request frame")
		return
	}

	var available, missing []string
	for _, h := range req.Hashes {
		has, err := s.blobs.Has(ctx, h)
		if err != nil {
			s.logger.Warn().Err(err).Str("hash", h).Msg("failed to check blob presence")
			continue
		}
		if has {
			available = append(available, h)
		} else {
			missing = append(missing, h)
		}
	}
	if err := s.send(ctx, KindBlobHave, blobHavePayload{Available: available, Missing: missing}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to send blob-have")
		return
	}

	window := s.cfg.BlobInFlightWindow
	if window <= 0 {
		window = 1
	}
	sem := make(chan struct{}, window)
	for _, h := range available {
		hash := h
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			s.sendBlob(ctx, hash)
		}()
	}
}

func (s *Session) sendBlob(ctx context.Context, hash string) {
	data, err := s.blobs.Get(ctx, hash)
	if err != nil {
		s.logger.Warn().Err(err).Str("hash", hash).Msg("failed to read blob for transfer")
		return
	}
	total := int64(len(data))
	if err := s.send(ctx, KindBlobTransfer, blobTransferPayload{Hash: hash, Data: data, Offset: 0, Total: total}); err != nil {
		s.logger.Warn().Err(err).Str("hash", hash).Msg("failed to send blob-transfer")
		return
	}
	metrics.BlobBytesTotal.WithLabelValues("sent").Add(float64(len(data)))
}

// handleBlobTransfer verifies and stores an incoming blob, acking
// success or failure, and wakes any blobCatchUp call waiting on this
// hash. Duplicate transfers for an already-received hash are logged
// and ignored.
func (s *Session) handleBlobTransfer(ctx context.Context, body []byte) {
	var bt blobTransferPayload
	if err := unmarshalPayload(KindBlobTransfer, body, &bt); err != nil {
		s.logger.Warn().Err(err).Msg("malformed blob-transfer frame")
		return
	}

	if has, _ := s.blobs.Has(ctx, bt.Hash); has {
		s.logger.Debug().Str("hash", bt.Hash).Msg("ignoring duplicate blob-transfer for already-received blob")
		s.wakePendingBlob(bt.Hash)
		return
	}

	if bt.Offset+int64(len(bt.Data)) != bt.Total {
		s.logger.Warn().Str("hash", bt.Hash).Msg("blob-transfer frame did not complete its declared total; discarding")
		_ = s.send(ctx, KindBlobAck, blobAckPayload{Hash: bt.Hash, Received: false})
		return
	}

	ok, err := s.blobs.VerifyAndAdd(ctx, bt.Data, bt.Hash, "")
	if err != nil || !ok {
		s.logger.Warn().Err(err).Str("hash", bt.Hash).Msg("blob hash verification failed")
		_ = s.send(ctx, KindBlobAck, blobAckPayload{Hash: bt.Hash, Received: false})
		return
	}

	metrics.BlobBytesTotal.WithLabelValues("received").Add(float64(len(bt.Data)))
	_ = s.send(ctx, KindBlobAck, blobAckPayload{Hash: bt.Hash, Received: true})
	s.wakePendingBlob(bt.Hash)
}

func (s *Session) wakePendingBlob(hash string) {
	s.pendingBlobsMu.Lock()
	done, ok := s.pendingBlobs[hash]
	delete(s.pendingBlobs, hash)
	s.pendingBlobsMu.Unlock()
	if ok {
		select {
		case done <- struct{}{}:
		default:
		}
	}
}

// handleBlobAck processes the sender-side acknowledgement of a pushed
// blob, retrying the transfer up to MaxBlobRetries on a negative ack.
func (s *Session) handleBlobAck(ctx context.Context, body []byte) {
	var ack blobAckPayload
	if err := unmarshalPayload(KindBlobAck, body, &ack); err != nil {
		s.logger.Warn().Err(err).Msg("malformed blob-ack frame")
		return
	}
	if ack.Received {
		s.mu.Lock()
		delete(s.blobRetryCount, ack.Hash)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	attempts := s.blobRetryCount[ack.Hash]
	s.mu.Unlock()
	if attempts >= s.cfg.MaxBlobRetries {
		s.logger.Warn().Str("hash", ack.Hash).Int("attempts", attempts).Msg("giving up on blob after exhausting retries")
		return
	}
	s.mu.Lock()
	s.blobRetryCount[ack.Hash] = attempts + 1
	s.mu.Unlock()
	go s.sendBlob(ctx, ack.Hash)
}
