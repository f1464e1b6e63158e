package utils

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ReferenceGenerator issues unique, time-ordered references
type ReferenceGenerator struct {
	node *snowflake.Node
}

// NewReferenceGenerator creates a generator for one snowflake node (0-1023).
// Every process that writes references needs its own node id.
func NewReferenceGenerator(nodeID int64) (*ReferenceGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("error creating reference node %d: %w", nodeID, err)
	}
	return &ReferenceGenerator{node: node}, nil
}

// Generate returns PREFIX_YYYYMMDD_ID
func (g *ReferenceGenerator) Generate(prefix string) string {
	id := g.node.Generate()
	timestamp := time.UnixMilli(id.Time()).UTC().Format("20060102")
	return fmt.Sprintf("%s_%s_%s", prefix, timestamp, strings.ToUpper(id.Base36()))
}

var (
	defaultGenerator     *ReferenceGenerator
	defaultGeneratorOnce sync.Once
)

// GenerateReference generates a unique reference using node 0
func GenerateReference(prefix string) string {
	defaultGeneratorOnce.Do(func() {
		defaultGenerator, _ = NewReferenceGenerator(0)
	})
	return defaultGenerator.Generate(prefix)
}
