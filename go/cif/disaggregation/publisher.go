package disaggregation

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/pkg/errors"

	"go.skia.org/cif/go/cif/types"
)

// publishTimeout bounds the wait for each publish acknowledgement.
const publishTimeout = 30 * time.Second

// Publisher sends deferred disaggregation work to the work topic.
type Publisher interface {
	// Publish sends every record and returns once the broker has
	// acknowledged them all.
	Publish(ctx context.Context, rows []*types.DeferredDisaggregation) error
}

// TopicPublisher publishes work records to a Pub/Sub topic as JSON message
// bodies. Messages are published asynchronously and the acknowledgements are
// awaited together.
type TopicPublisher struct {
	topic *pubsub.Topic
}

// NewTopicPublisher returns a TopicPublisher on the given topic.
func NewTopicPublisher(topic *pubsub.Topic) *TopicPublisher {
	return &TopicPublisher{topic: topic}
}

// Publish implements Publisher.
func (p *TopicPublisher) Publish(ctx context.Context, rows []*types.DeferredDisaggregation) error {
	results := make([]*pubsub.PublishResult, 0, len(rows))
	for _, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			return errors.Wrap(err, "encoding deferred disaggregation")
		}
		results = append(results, p.topic.Publish(ctx, &pubsub.Message{Data: b}))
	}
	for i, res := range results {
		tctx, cancel := context.WithTimeout(ctx, publishTimeout)
		_, err := res.Get(tctx)
		cancel()
		if err != nil {
			return errors.Wrapf(err, "publishing work for artifact %s", rows[i].ArtifactID)
		}
	}
	return nil
}

var _ Publisher = (*TopicPublisher)(nil)
