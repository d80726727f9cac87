// Package version assigns strictly increasing int64 versions to raw data and slices.
package version

import (
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
)

// Generator hands out versions. Successive calls on one Generator strictly increase.
type Generator interface {
	Next() int64
}

// Snowflake is a Generator backed by a snowflake node.
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake creates a generator for nodeID (0-1023).
func NewSnowflake(nodeID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeID, err)
	}
	return &Snowflake{node: node}, nil
}

// Next returns the next version.
func (s *Snowflake) Next() int64 {
	return s.node.Generate().Int64()
}

// NodeIDFromHost derives a stable node id from the host name.
func NodeIDFromHost() int64 {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	h := fnv.New32a()
	h.Write([]byte(host))
	return int64(h.Sum32() % 1024)
}

var (
	shared     Generator
	sharedOnce sync.Once
	sharedErr  error
)

// Init installs the process-wide generator. Only the first call has any effect.
func Init(nodeID int64) error {
	sharedOnce.Do(func() {
		shared, sharedErr = NewSnowflake(nodeID)
	})
	return sharedErr
}

// Shared returns the process-wide generator installed by Init.
func Shared() Generator {
	if shared == nil {
		panic("version: Init must be called before Shared")
	}
	return shared
}

// Sequence is a deterministic Generator for tests and replays.
type Sequence struct {
	n atomic.Int64
}

// NewSequence returns a Sequence whose first version is start+1.
func NewSequence(start int64) *Sequence {
	s := &Sequence{}
	s.n.Store(start)
	return s
}

// Next returns the next version.
func (s *Sequence) Next() int64 {
	return s.n.Add(1)
}
