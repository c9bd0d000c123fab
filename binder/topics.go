package binder

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// NoLeaderID is the leader id brokers report for a partition without a leader.
const NoLeaderID int32 = -1

// Node is a broker node.
type Node struct {
	ID   int32
	Host string
}

func (n Node) String() string {
	return fmt.Sprintf("%s (id: %d)", n.Host, n.ID)
}

// PartitionInfo describes one partition of a topic.
type PartitionInfo struct {
	Topic     string
	Partition int32
	Leader    *Node
	Replicas  []Node
	InSync    []Node
}

// HasLeader is false for a nil leader or the NoLeaderID sentinel.
func (p PartitionInfo) HasLeader() bool {
	return p.Leader != nil && p.Leader.ID != NoLeaderID
}

// Same reports whether p and other describe the same partition.
func (p PartitionInfo) Same(other PartitionInfo) bool {
	return p.Topic == other.Topic && p.Partition == other.Partition
}

func (p PartitionInfo) String() string {
	leader := "none"
	if p.Leader != nil {
		leader = p.Leader.String()
	}
	return fmt.Sprintf("Partition(topic = %s, partition = %d, leader = %s, replicas = %s, isr = %s)",
		p.Topic, p.Partition, leader, formatNodes(p.Replicas), formatNodes(p.InSync))
}

func formatNodes(nodes []Node) string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = fmt.Sprint(n.ID)
	}
	return "[" + strings.Join(ids, ",") + "]"
}

// TopicInformation is what a binder knows about a destination in use.
type TopicInformation struct {
	Group      string
	Partitions []PartitionInfo
	Pattern    bool
}

// Tracks reports whether partition is one the binder recorded for this topic.
func (t TopicInformation) Tracks(partition PartitionInfo) bool {
	for _, known := range t.Partitions {
		if known.Same(partition) {
			return true
		}
	}
	return false
}

// TopicRegistry tracks destinations in use. Readers load an immutable
// snapshot; writers copy, modify and swap it.
type TopicRegistry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[map[string]TopicInformation]
}

func NewTopicRegistry() *TopicRegistry {
	r := &TopicRegistry{}
	empty := map[string]TopicInformation{}
	r.snapshot.Store(&empty)
	return r
}

func (r *TopicRegistry) load() map[string]TopicInformation {
	return *r.snapshot.Load()
}

func (r *TopicRegistry) update(fn func(next map[string]TopicInformation)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.load()
	next := make(map[string]TopicInformation, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	fn(next)
	r.snapshot.Store(&next)
}

// Put records or replaces the information for name.
func (r *TopicRegistry) Put(name string, info TopicInformation) {
	info.Partitions = append([]PartitionInfo(nil), info.Partitions...)
	r.update(func(next map[string]TopicInformation) { next[name] = info })
}

// UpdatePartitions replaces the partitions of an existing entry, creating it
// when missing.
func (r *TopicRegistry) UpdatePartitions(name string, partitions []PartitionInfo) {
	partitions = append([]PartitionInfo(nil), partitions...)
	r.update(func(next map[string]TopicInformation) {
		info := next[name]
		info.Partitions = partitions
		next[name] = info
	})
}

func (r *TopicRegistry) Remove(name string) {
	r.update(func(next map[string]TopicInformation) { delete(next, name) })
}

func (r *TopicRegistry) Get(name string) (TopicInformation, bool) {
	info, ok := r.load()[name]
	return info, ok
}

// Snapshot returns a copy of the current entries.
func (r *TopicRegistry) Snapshot() map[string]TopicInformation {
	current := r.load()
	out := make(map[string]TopicInformation, len(current))
	for k, v := range current {
		out[k] = v
	}
	return out
}

// Names returns the registered destination names, sorted.
func (r *TopicRegistry) Names() []string {
	current := r.load()
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *TopicRegistry) Len() int {
	return len(r.load())
}
