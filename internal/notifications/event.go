package notifications

import (
	"context"
	"math/big"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/charlesng35/socialcounter/pkg/metrics"
)

// TopicPrefix is the first level of every notification topic.
const TopicPrefix = "social-counter"

// Topic identifies the (platform, resource kind, resource id, metric) channel an event is published on.
type Topic struct {
	Platform   string
	Resource   string
	ResourceID string
	Metric     string
}

// String renders the slash separated topic, e.g. social-counter/youtube/channel/UC123/subscribers.
func (t Topic) String() string {
	return strings.Join([]string{TopicPrefix, t.Platform, t.Resource, t.ResourceID, t.Metric}, "/")
}

// RoutingKey renders the topic as an AMQP routing key. Dots inside a level are
// replaced with underscores so each level stays a single routing word.
func (t Topic) RoutingKey() string {
	parts := []string{TopicPrefix, t.Platform, t.Resource, t.ResourceID, t.Metric}
	for i, part := range parts {
		parts[i] = strings.ReplaceAll(part, ".", "_")
	}
	return strings.Join(parts, ".")
}

// Event is the payload delivered to subscribers after a refresh.
type Event struct {
	Metric    string         `json:"metric"`
	Value     *big.Int       `json:"value"`
	Cached    bool           `json:"cached"`
	FetchedAt time.Time      `json:"fetched_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Sink publishes events to one delivery channel.
type Sink interface {
	Name() string
	Publish(ctx context.Context, topic Topic, event Event) error
}

// Fanout publishes to every configured sink. A failing sink does not stop the others.
type Fanout struct {
	sinks []Sink
}

// NewFanout ignores nil sinks.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, sink := range sinks {
		if sink != nil {
			f.sinks = append(f.sinks, sink)
		}
	}
	return f
}

// Name implements Sink.
func (f *Fanout) Name() string { return "fanout" }

// Len reports how many sinks are attached.
func (f *Fanout) Len() int { return len(f.sinks) }

// Publish implements Sink and returns the combined sink errors.
func (f *Fanout) Publish(ctx context.Context, topic Topic, event Event) error {
	var err error
	for _, sink := range f.sinks {
		if pubErr := sink.Publish(ctx, topic, event); pubErr != nil {
			metrics.Notifications.WithLabelValues(sink.Name(), "failure").Inc()
			err = multierr.Append(err, pubErr)
			continue
		}
		metrics.Notifications.WithLabelValues(sink.Name(), "success").Inc()
	}
	return err
}
