package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// OpenTopic connects to projectID and returns a handle on an existing topic. The caller owns
// the returned client and must stop the topic and close the client on shutdown.
func OpenTopic(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*pubsub.Client, *pubsub.Topic, error) {
	projectID = strings.TrimSpace(projectID)
	topicID = strings.TrimSpace(topicID)
	if projectID == "" || topicID == "" {
		return nil, nil, errors.New("pubsub: project and topic are required")
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub: create client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("pubsub: check topic %s: %w", topicID, err)
	}
	if !exists {
		_ = client.Close()
		return nil, nil, fmt.Errorf("pubsub: topic %s does not exist", topicID)
	}
	topic.EnableMessageOrdering = true
	return client, topic, nil
}
