package drive

import (
	"fmt"
	"sync"

	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// NodeRef identifies a node within a volume.
type NodeRef struct {
	VolumeID string `json:"volume_id"`
	NodeID   string `json:"node_id"`
}

// NodeKeys is the secret material registered for one node. ContentKey and
// HashKey are optional: folders carry a hash key, files a content key.
type NodeKeys struct {
	NodeKey    []byte `json:"node_key"`
	ContentKey []byte `json:"content_key,omitempty"`
	HashKey    []byte `json:"hash_key,omitempty"`
}

func (k NodeKeys) clone() NodeKeys {
	return NodeKeys{
		NodeKey:    cloneBytes(k.NodeKey),
		ContentKey: cloneBytes(k.ContentKey),
		HashKey:    cloneBytes(k.HashKey),
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	return append([]byte(nil), b...)
}

// secretCache holds the node and share keys registered on one client.
// Registering a key for an id that already has one replaces it.
type secretCache struct {
	mu     sync.RWMutex
	nodes  map[NodeRef]NodeKeys
	shares map[string][]byte
}

func newSecretCache() *secretCache {
	return &secretCache{
		nodes:  make(map[NodeRef]NodeKeys),
		shares: make(map[string][]byte),
	}
}

func (c *secretCache) putNode(ref NodeRef, keys NodeKeys) error {
	if ref.VolumeID == "" || ref.NodeID == "" {
		return fmt.Errorf("drive: node keys need volume and node ids: %w", sdkerr.ErrArgument)
	}

	if len(keys.NodeKey) == 0 {
		return fmt.Errorf("drive: node %s has an empty node key: %w", ref.NodeID, sdkerr.ErrArgument)
	}

	keys = keys.clone()

	c.mu.Lock()
	c.nodes[ref] = keys
	c.mu.Unlock()

	return nil
}

func (c *secretCache) putShare(shareID string, key []byte) error {
	if shareID == "" || len(key) == 0 {
		return fmt.Errorf("drive: share key needs an id and key material: %w", sdkerr.ErrArgument)
	}

	key = cloneBytes(key)

	c.mu.Lock()
	c.shares[shareID] = key
	c.mu.Unlock()

	return nil
}

func (c *secretCache) node(ref NodeRef) (NodeKeys, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	k, ok := c.nodes[ref]

	return k, ok
}

func (c *secretCache) share(shareID string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	k, ok := c.shares[shareID]

	return k, ok
}

// nameKey returns the key names under parent are encrypted with: the parent's
// node key, else the share key.
func (c *secretCache) nameKey(shareID string, parent NodeRef) ([]byte, error) {
	if k, ok := c.node(parent); ok {
		return k.NodeKey, nil
	}

	if k, ok := c.share(shareID); ok {
		return k, nil
	}

	return nil, fmt.Errorf("drive: no key registered for node %s or share %s: %w", parent.NodeID, shareID, sdkerr.ErrInvalidState)
}

// hashKey returns the key for name hashes under parent, falling back to the
// name key.
func (c *secretCache) hashKey(shareID string, parent NodeRef) ([]byte, error) {
	if k, ok := c.node(parent); ok && len(k.HashKey) > 0 {
		return k.HashKey, nil
	}

	return c.nameKey(shareID, parent)
}

// contentKey returns the key file content is encrypted with.
func (c *secretCache) contentKey(shareID string, ref NodeRef) ([]byte, error) {
	if k, ok := c.node(ref); ok && len(k.ContentKey) > 0 {
		return k.ContentKey, nil
	}

	if k, ok := c.share(shareID); ok {
		return k, nil
	}

	return nil, fmt.Errorf("drive: no content key registered for node %s: %w", ref.NodeID, sdkerr.ErrInvalidState)
}
