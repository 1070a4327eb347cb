// Package sub creates the Pub/Sub topic and subscription that carry
// deferred disaggregation work from the ingestion process to the workers.
package sub

import (
	"context"

	"cloud.google.com/go/pubsub"
	"github.com/pkg/errors"
)

// NewTopic returns the work topic, creating it if it does not already exist.
// A non-empty kmsKeyName encrypts messages with that Cloud KMS key;
// otherwise messages get Google-managed encryption. Creating the topic
// requires the "PubSub Admin" role.
func NewTopic(ctx context.Context, client *pubsub.Client, topicName, kmsKeyName string) (*pubsub.Topic, error) {
	topic := client.Topic(topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "checking existence of topic %q", topic.ID())
	}
	if !exists {
		topic, err = client.CreateTopicWithConfig(ctx, topicName, &pubsub.TopicConfig{
			KMSKeyName: kmsKeyName,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "creating topic %q", topicName)
		}
	}
	return topic, nil
}

// NewSubscription returns the worker subscription on the work topic,
// creating the topic and the subscription if they do not already exist.
func NewSubscription(ctx context.Context, client *pubsub.Client, topicName, subName, kmsKeyName string) (*pubsub.Subscription, error) {
	topic, err := NewTopic(ctx, client, topicName, kmsKeyName)
	if err != nil {
		return nil, err
	}
	s := client.Subscription(subName)
	exists, err := s.Exists(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "checking existence of subscription %q", subName)
	}
	if !exists {
		s, err = client.CreateSubscription(ctx, subName, pubsub.SubscriptionConfig{
			Topic: topic,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "creating subscription %q", subName)
		}
	}
	return s, nil
}
