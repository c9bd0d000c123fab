package binder

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionInfoHasLeader(t *testing.T) {
	assert.False(t, PartitionInfo{}.HasLeader())
	assert.False(t, PartitionInfo{Leader: &Node{ID: NoLeaderID}}.HasLeader())
	assert.True(t, PartitionInfo{Leader: &Node{ID: 0}}.HasLeader())
}

func TestPartitionInfoString(t *testing.T) {
	p := PartitionInfo{
		Topic:     "orders",
		Partition: 2,
		Leader:    &Node{ID: 1, Host: "kafka-1:9092"},
		Replicas:  []Node{{ID: 1}, {ID: 2}},
		InSync:    []Node{{ID: 1}},
	}
	assert.Equal(t, "Partition(topic = orders, partition = 2, leader = kafka-1:9092 (id: 1), replicas = [1,2], isr = [1])", p.String())
	assert.Equal(t, "Partition(topic = orders, partition = 0, leader = none, replicas = [], isr = [])", PartitionInfo{Topic: "orders"}.String())
}

func TestTopicInformationTracks(t *testing.T) {
	info := TopicInformation{Partitions: []PartitionInfo{{Topic: "orders", Partition: 0}}}
	assert.True(t, info.Tracks(PartitionInfo{Topic: "orders", Partition: 0, Leader: &Node{ID: 3}}))
	assert.False(t, info.Tracks(PartitionInfo{Topic: "orders", Partition: 1}))
}

func TestTopicRegistry(t *testing.T) {
	r := NewTopicRegistry()
	assert.Equal(t, 0, r.Len())

	partitions := []PartitionInfo{{Topic: "orders", Partition: 0}}
	r.Put("orders", TopicInformation{Group: "billing", Partitions: partitions})
	r.Put("audit.*", TopicInformation{Pattern: true})

	partitions[0].Partition = 9
	info, ok := r.Get("orders")
	require.True(t, ok)
	assert.Equal(t, int32(0), info.Partitions[0].Partition, "registry keeps its own copy")
	assert.Equal(t, []string{"audit.*", "orders"}, r.Names())

	r.UpdatePartitions("orders", []PartitionInfo{{Topic: "orders", Partition: 0}, {Topic: "orders", Partition: 1}})
	info, _ = r.Get("orders")
	assert.Equal(t, "billing", info.Group)
	assert.Len(t, info.Partitions, 2)

	r.UpdatePartitions("new", nil)
	assert.Equal(t, 3, r.Len())

	snapshot := r.Snapshot()
	r.Remove("orders")
	_, ok = r.Get("orders")
	assert.False(t, ok)
	assert.Contains(t, snapshot, "orders", "snapshots are unaffected by later writes")
}

func TestTopicRegistryConcurrentAccess(t *testing.T) {
	r := NewTopicRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.Put(fmt.Sprintf("topic-%d", i), TopicInformation{})
		}(i)
		go func() {
			defer wg.Done()
			for name := range r.Snapshot() {
				_, _ = r.Get(name)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, r.Len())
}
