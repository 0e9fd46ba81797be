package chat

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SendText records an outgoing text message and triggers a dispatch pass.
func (s *Session) SendText(ctx context.Context, body string) (*Message, error) {
	m, err := s.Record(RecordRequest{Body: body, Incoming: false})
	if err != nil {
		return nil, err
	}
	s.DispatchPending(ctx)
	return m, nil
}

// DispatchPending runs one ordered-send pass over the session's undelivered
// messages. Passes for the same session never run concurrently. A transport
// error aborts the remainder of the pass: every untouched message stays
// pending and the whole pass is retried verbatim on the next trigger
// (reconnect, explicit call). Unsendable content is a terminal per-message
// failure and does not stop the pass.
func (s *Session) DispatchPending(ctx context.Context) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	store := s.reg.deps.Store
	log := s.reg.logger()

	pending, err := store.Pending(s.account, s.peer)
	if err != nil {
		log.Error("read pending messages", zap.String("peer", string(s.peer)), zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	threshold := s.reg.delayThreshold()

	for _, m := range pending {
		text, ok := s.prepareOutgoing(m.Body)
		if !ok {
			if err := store.MarkFailed(m.ID); err != nil {
				log.Error("mark message failed", zap.String("id", m.ID), zap.Error(err))
			}
			continue
		}

		// A message that sat queued past the threshold carries its original
		// creation time so the peer does not mistake transmission latency
		// for authorship latency.
		var delayed *time.Time
		if time.Since(m.CreatedAt) > threshold {
			t := m.CreatedAt
			delayed = &t
		}

		wire := s.OutgoingPacket(text)
		wire.DelayedAt = delayed

		stanzaID, err := s.reg.deps.Transport.Send(ctx, wire)
		if err != nil {
			// Connectivity failure: stop here, later messages stay pending
			// so nothing is ever sent out of order.
			log.Info("dispatch pass interrupted",
				zap.String("peer", string(s.peer)),
				zap.String("id", m.ID),
				zap.Error(err))
			return
		}

		if err := store.MarkDelivered(m.ID, stanzaID, delayed); err != nil {
			log.Error("mark message delivered", zap.String("id", m.ID), zap.Error(err))
		}
	}
}

// Acknowledge applies a transport delivery acknowledgment to the session's
// message with the given transport identifier. A missing message is ignored:
// it may have been purged or was never tracked by this node.
func (s *Session) Acknowledge(stanzaID string) {
	applied, err := s.reg.deps.Store.AckByStanzaID(s.account, s.peer, stanzaID)
	if err != nil {
		s.reg.logger().Error("apply acknowledgment",
			zap.String("stanza_id", stanzaID), zap.Error(err))
		return
	}
	if !applied {
		s.reg.logger().Debug("acknowledgment for unknown message",
			zap.String("stanza_id", stanzaID))
	}
}

func (s *Session) prepareOutgoing(text string) (string, bool) {
	s.mu.Lock()
	fn := s.prepare
	s.mu.Unlock()
	if fn == nil {
		return text, true
	}
	return fn(text)
}
