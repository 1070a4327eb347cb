package worker

import (
	"context"

	"cloud.google.com/go/pubsub"

	"go.skia.org/cif/go/sklog"
)

// pubsubMessage adapts a Pub/Sub message to the Message interface.
type pubsubMessage struct {
	m *pubsub.Message
}

func (p pubsubMessage) Data() []byte {
	return p.m.Data
}

func (p pubsubMessage) DeliveryAttempt() int64 {
	if p.m.DeliveryAttempt == nil {
		return 0
	}
	return int64(*p.m.DeliveryAttempt)
}

func (p pubsubMessage) Ack() {
	p.m.Ack()
}

func (p pubsubMessage) Nack() {
	p.m.Nack()
}

var _ Message = pubsubMessage{}

// Receiver pulls work messages from a subscription and hands each one to a
// Worker.
type Receiver struct {
	sub *pubsub.Subscription
	w   *Worker
}

// NewReceiver returns a Receiver for the given subscription. maxMessages
// bounds how many messages are handled concurrently.
func NewReceiver(sub *pubsub.Subscription, w *Worker, maxMessages int) *Receiver {
	sub.ReceiveSettings.NumGoroutines = 1
	sub.ReceiveSettings.MaxOutstandingMessages = maxMessages
	return &Receiver{
		sub: sub,
		w:   w,
	}
}

// Receive processes messages until ctx is cancelled. Handlers running at
// cancellation are allowed to complete.
func (r *Receiver) Receive(ctx context.Context) error {
	sklog.Infof("Waiting for messages on %s", r.sub.String())
	return r.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		if err := r.w.Process(ctx, pubsubMessage{m: m}); err != nil {
			sklog.Errorf("Failed to handle work message: %s", err)
		}
	})
}
