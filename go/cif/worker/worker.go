// Package worker consumes deferred disaggregation work from the work topic.
//
// Each message carries one DeferredDisaggregation row. The worker reruns the
// extraction it describes and records the terminal status, acking messages
// that can never succeed and nacking the ones worth redelivering.
package worker

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"go.skia.org/cif/go/cif/catalog"
	"go.skia.org/cif/go/cif/disaggregation"
	"go.skia.org/cif/go/cif/extractor"
	"go.skia.org/cif/go/cif/factory"
	"go.skia.org/cif/go/cif/types"
	"go.skia.org/cif/go/metrics2"
	"go.skia.org/cif/go/sklog"
)

// Message is the subset of a bus message the worker consumes.
type Message interface {
	// Data returns the message payload.
	Data() []byte

	// DeliveryAttempt returns the bus's delivery counter, or 0 if the bus
	// does not track attempts.
	DeliveryAttempt() int64

	// Ack acknowledges the message. It will not be redelivered.
	Ack()

	// Nack signals the message was not processed. It will be redelivered.
	Nack()
}

// Worker processes work messages.
type Worker struct {
	cat    catalog.Catalog
	fact   *factory.Factory
	disagg *disaggregation.Disaggregator
}

// New returns a Worker backed by the given catalog and factory.
func New(cat catalog.Catalog, fact *factory.Factory) *Worker {
	return &Worker{
		cat:    cat,
		fact:   fact,
		disagg: disaggregation.New(cat, nil, fact),
	}
}

// Process handles a single work message and always settles it, by ack or by
// nack. The returned error reports why a message was discarded or nacked.
func (w *Worker) Process(ctx context.Context, msg Message) error {
	defer metrics2.NewTimer("cif_worker_callback").Stop()
	row := &types.DeferredDisaggregation{}
	if err := json.Unmarshal(msg.Data(), row); err != nil {
		// Without a parsed message there is no row to mark FAILED.
		metrics2.GetCounter("cif_worker_messages", map[string]string{"result": "discarded"}).Inc(1)
		msg.Ack()
		return errors.Wrap(err, "discarded unparseable message")
	}
	artifact, e, err := w.resolve(ctx, row)
	if err != nil {
		if types.IsNotFound(err) {
			w.discard(ctx, msg, row)
			return errors.Wrapf(err, "discarded disaggregation for source %s, generation %d, artifact %s",
				row.SourceID, row.GenerationID, row.ArtifactID)
		}
		// Resolution hit the database, not a missing reference. Redeliver.
		metrics2.GetCounter("cif_worker_messages", map[string]string{"result": "nack"}).Inc(1)
		msg.Nack()
		return err
	}

	opts := extractor.FragmentOptions{
		StartByte: row.StartByte,
		EndByte:   row.EndByte,
	}
	if row.FragmentID != nil {
		opts.FragmentID = *row.FragmentID
	}
	if err := w.disagg.DisaggregateOne(ctx, artifact, e, opts); err != nil {
		w.fail(ctx, msg, row)
		return errors.Wrapf(err, "processing disaggregation for source %s, generation %d, artifact %s",
			row.SourceID, row.GenerationID, row.ArtifactID)
	}
	if err := w.cat.UpdateDeferredStatus(ctx, row, types.DeferredDone, attempt(msg)); err != nil {
		// The fragments landed. Fragment insertion is commutative, so the
		// redelivered message just reruns the extraction and records DONE.
		metrics2.GetCounter("cif_worker_messages", map[string]string{"result": "nack"}).Inc(1)
		msg.Nack()
		return errors.Wrap(err, "recording DONE status")
	}
	metrics2.GetCounter("cif_worker_messages", map[string]string{"result": "ack"}).Inc(1)
	msg.Ack()
	sklog.Infof("Processed disaggregation for source %s, generation %d, artifact %s",
		row.SourceID, row.GenerationID, row.ArtifactID)
	return nil
}

// resolve loads every object the message references. A NotFound from any of
// them means the message can never be processed.
func (w *Worker) resolve(ctx context.Context, row *types.DeferredDisaggregation) (*types.Artifact, extractor.Extractor, error) {
	source, err := w.cat.Source(ctx, row.SourceID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := w.cat.Generation(ctx, row.SourceID, row.GenerationID); err != nil {
		return nil, nil, err
	}
	artifact, err := w.cat.Artifact(ctx, row.ArtifactID)
	if err != nil {
		return nil, nil, err
	}
	conn, err := w.fact.Connector(source)
	if err != nil {
		return nil, nil, err
	}
	e, err := w.fact.Extractor(source, conn, row.ExtractorType)
	if err != nil {
		return nil, nil, err
	}
	return artifact, e, nil
}

// discard marks the row FAILED and acks so the bus will not redeliver.
func (w *Worker) discard(ctx context.Context, msg Message, row *types.DeferredDisaggregation) {
	if err := w.cat.UpdateDeferredStatus(ctx, row, types.DeferredFailed, attempt(msg)); err != nil {
		sklog.Errorf("Failed to record discarded disaggregation: %s", err)
	}
	metrics2.GetCounter("cif_worker_messages", map[string]string{"result": "discarded"}).Inc(1)
	msg.Ack()
}

// fail marks the row FAILED and nacks so the bus redelivers the message.
func (w *Worker) fail(ctx context.Context, msg Message, row *types.DeferredDisaggregation) {
	if err := w.cat.UpdateDeferredStatus(ctx, row, types.DeferredFailed, attempt(msg)); err != nil {
		sklog.Errorf("Failed to record failed disaggregation: %s", err)
	}
	metrics2.GetCounter("cif_worker_messages", map[string]string{"result": "nack"}).Inc(1)
	msg.Nack()
}

// attempt returns the bus delivery counter, or 1 when the bus does not set
// one.
func attempt(msg Message) int64 {
	if n := msg.DeliveryAttempt(); n > 0 {
		return n
	}
	return 1
}
