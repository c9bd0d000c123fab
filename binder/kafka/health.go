package kafka

import (
	"context"
	"sort"
	"strings"

	"github.com/drblury/streambridge/binder"
	"github.com/drblury/streambridge/health"
)

// TopicsIndicator checks that the partitions of every topic in use have a
// leader. It only reads the topic registry.
type TopicsIndicator struct {
	metadata                                MetadataClient
	topics                                  *binder.TopicRegistry
	considerDownWhenAnyPartitionHasNoLeader bool
}

func NewTopicsIndicator(metadata MetadataClient, topics *binder.TopicRegistry, considerDownWhenAnyPartitionHasNoLeader bool) *TopicsIndicator {
	return &TopicsIndicator{
		metadata:                                metadata,
		topics:                                  topics,
		considerDownWhenAnyPartitionHasNoLeader: considerDownWhenAnyPartitionHasNoLeader,
	}
}

func (t *TopicsIndicator) Health(ctx context.Context) health.Verdict {
	inUse := t.topics.Snapshot()
	if len(inUse) == 0 {
		if _, err := t.metadata.ListTopics(ctx); err != nil {
			return health.Down().With("No topic information available", "Kafka broker is not reachable")
		}
		return health.Unknown().With("No bindings found", "Kafka binder may not be bound to destinations on the broker")
	}

	names := make([]string, 0, len(inUse))
	for name := range inUse {
		names = append(names, name)
	}
	sort.Strings(names)

	down := map[string]struct{}{}
	var checked []string
	for _, name := range names {
		info := inUse[name]
		if info.Pattern {
			if _, err := t.metadata.ListTopics(ctx); err != nil {
				return health.Down().With("Cluster not connected",
					"Destination provided is a pattern, but cannot connect to the cluster for any verification")
			}
			continue
		}

		partitions, err := t.metadata.PartitionsFor(ctx, name)
		if err != nil {
			return health.DownWithError(err)
		}
		for _, partition := range partitions {
			if t.isDown(info, partition) {
				down[partition.String()] = struct{}{}
			}
		}
		checked = append(checked, name)
	}

	if len(down) == 0 {
		if checked == nil {
			checked = []string{}
		}
		return health.Up().With("topicsInUse", checked)
	}

	messages := make([]string, 0, len(down))
	for msg := range down {
		messages = append(messages, msg)
	}
	sort.Strings(messages)
	return health.Down().With("Following partitions in use have no leaders: ", "["+strings.Join(messages, ", ")+"]")
}

// isDown: a tracked partition without a leader, or any leaderless partition
// when considerDownWhenAnyPartitionHasNoLeader is set.
func (t *TopicsIndicator) isDown(info binder.TopicInformation, partition binder.PartitionInfo) bool {
	leaderless := !partition.HasLeader()
	return (info.Tracks(partition) && leaderless) || (t.considerDownWhenAnyPartitionHasNoLeader && leaderless)
}
