package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"

	"github.com/IBM/sarama"

	"github.com/drblury/streambridge/binder"
)

// ClusterAdmin is the subset of sarama.ClusterAdmin the binder uses.
type ClusterAdmin interface {
	ListTopics() (map[string]sarama.TopicDetail, error)
	DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error)
	DescribeCluster() ([]*sarama.Broker, int32, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	CreatePartitions(topic string, count int32, assignment [][]int32, validateOnly bool) error
	Close() error
}

// AdminFactory allows overriding the cluster admin creation for testing.
var AdminFactory = func(brokers []string, config *sarama.Config) (ClusterAdmin, error) {
	return sarama.NewClusterAdmin(brokers, config)
}

// MetadataClient reads topic and partition metadata for the health facet.
type MetadataClient interface {
	ListTopics(ctx context.Context) ([]string, error)
	PartitionsFor(ctx context.Context, topic string) ([]binder.PartitionInfo, error)
}

// adminMetadata serves MetadataClient from a ClusterAdmin. Sarama calls are
// not cancellable, so each call runs on its own goroutine and the caller stops
// waiting when ctx is done.
type adminMetadata struct {
	admin ClusterAdmin
}

// NewMetadataClient adapts a ClusterAdmin to MetadataClient.
func NewMetadataClient(admin ClusterAdmin) MetadataClient {
	return &adminMetadata{admin: admin}
}

func (m *adminMetadata) ListTopics(ctx context.Context) ([]string, error) {
	return await(ctx, func() ([]string, error) {
		topics, err := m.admin.ListTopics()
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(topics))
		for name := range topics {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	})
}

func (m *adminMetadata) PartitionsFor(ctx context.Context, topic string) ([]binder.PartitionInfo, error) {
	return await(ctx, func() ([]binder.PartitionInfo, error) {
		metadata, err := m.admin.DescribeTopics([]string{topic})
		if err != nil {
			return nil, err
		}
		hosts := m.brokerHosts()
		for _, tm := range metadata {
			if tm == nil || tm.Name != topic {
				continue
			}
			if !errors.Is(tm.Err, sarama.ErrNoError) {
				return nil, fmt.Errorf("describe topic %s: %w", topic, tm.Err)
			}
			return partitionInfos(topic, tm.Partitions, hosts), nil
		}
		return nil, fmt.Errorf("describe topic %s: %w", topic, sarama.ErrUnknownTopicOrPartition)
	})
}

// brokerHosts maps broker ids to addresses. Missing cluster information only
// leaves hosts blank.
func (m *adminMetadata) brokerHosts() map[int32]string {
	brokers, _, err := m.admin.DescribeCluster()
	if err != nil {
		return nil
	}
	hosts := make(map[int32]string, len(brokers))
	for _, b := range brokers {
		if b != nil {
			hosts[b.ID()] = b.Addr()
		}
	}
	return hosts
}

func partitionInfos(topic string, partitions []*sarama.PartitionMetadata, hosts map[int32]string) []binder.PartitionInfo {
	out := make([]binder.PartitionInfo, 0, len(partitions))
	for _, p := range partitions {
		if p == nil {
			continue
		}
		info := binder.PartitionInfo{
			Topic:     topic,
			Partition: p.ID,
			Replicas:  nodes(p.Replicas, hosts),
			InSync:    nodes(p.Isr, hosts),
		}
		if p.Leader != binder.NoLeaderID {
			info.Leader = &binder.Node{ID: p.Leader, Host: hosts[p.Leader]}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out
}

func nodes(ids []int32, hosts map[int32]string) []binder.Node {
	out := make([]binder.Node, len(ids))
	for i, id := range ids {
		out[i] = binder.Node{ID: id, Host: hosts[id]}
	}
	return out
}

func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{value: v, err: err}
	}()
	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// isUnavailable classifies errors that mean the cluster could not be reached.
func isUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.Is(err, sarama.ErrOutOfBrokers) ||
		errors.Is(err, sarama.ErrNotConnected) ||
		errors.Is(err, sarama.ErrClosedClient) ||
		errors.Is(err, sarama.ErrBrokerNotAvailable) ||
		errors.Is(err, sarama.ErrRequestTimedOut) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &netErr)
}

// isPropagating matches the errors brokers return for a topic whose metadata
// is not yet known everywhere, typically right after it was created.
func isPropagating(err error) bool {
	return errors.Is(err, sarama.ErrUnknownTopicOrPartition) ||
		errors.Is(err, sarama.ErrLeaderNotAvailable)
}
