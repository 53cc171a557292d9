package xid

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// ReceiptSequence hands out time-ordered receipt numbers unique per node.
type ReceiptSequence struct {
	mu     sync.Mutex
	node   *snowflake.Node
	prefix string
}

func NewReceiptSequence(nodeID int64, prefix string) (*ReceiptSequence, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("receipt node %d: %w", nodeID, err)
	}
	if prefix == "" {
		prefix = "R"
	}
	return &ReceiptSequence{node: node, prefix: prefix}, nil
}

func (r *ReceiptSequence) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("%s%s", r.prefix, r.node.Generate().String())
}
