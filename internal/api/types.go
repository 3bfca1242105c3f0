package api

import "time"

// Volume is a storage volume owned by the user.
type Volume struct {
	VolumeID  string `json:"volume_id"`
	ShareID   string `json:"share_id"`
	State     int    `json:"state"`
	UsedSpace int64  `json:"used_space"`
	MaxSpace  int64  `json:"max_space,omitempty"`
}

// Share is the root of a node tree, carrying the armored share key and the
// passphrase it is locked with.
type Share struct {
	ShareID           string `json:"share_id"`
	VolumeID          string `json:"volume_id"`
	RootNodeID        string `json:"root_node_id"`
	CreatorEmail      string `json:"creator_email,omitempty"`
	ArmoredKey        string `json:"armored_key"`
	ArmoredPassphrase string `json:"armored_passphrase"`
}

// Node is a file or folder. Name is armored ciphertext.
type Node struct {
	NodeID           string    `json:"node_id"`
	ParentNodeID     string    `json:"parent_node_id,omitempty"`
	VolumeID         string    `json:"volume_id"`
	Name             string    `json:"name"`
	NameHash         string    `json:"name_hash,omitempty"`
	MediaType        string    `json:"media_type,omitempty"`
	Size             int64     `json:"size"`
	ModificationTime time.Time `json:"modification_time,omitzero"`
	ActiveRevisionID string    `json:"active_revision_id,omitempty"`
}

// Revision states.
const (
	RevisionDraft  = "draft"
	RevisionActive = "active"
)

// Block is one content block of a revision.
type Block struct {
	Index   int    `json:"index"`
	BlockID string `json:"block_id,omitempty"`
	Size    int64  `json:"size"`
	// Hash is the digest of the stored block.
	Hash []byte `json:"hash"`
}

// Revision is a content version of a file node.
type Revision struct {
	RevisionID        string    `json:"revision_id"`
	NodeID            string    `json:"node_id"`
	State             string    `json:"state"`
	Size              int64     `json:"size"`
	ModificationTime  time.Time `json:"modification_time,omitzero"`
	Blocks            []Block   `json:"blocks"`
	ManifestSignature []byte    `json:"manifest_signature,omitempty"`
	SignatureEmail    string    `json:"signature_email,omitempty"`
}

// CreateFileRequest creates a file node with an empty draft revision.
type CreateFileRequest struct {
	ParentNodeID string `json:"parent_node_id"`
	Name         string `json:"name"`
	NameHash     string `json:"name_hash"`
	MediaType    string `json:"media_type,omitempty"`
	// ContentKeyPacket is the wrapped content key of the first revision.
	ContentKeyPacket []byte `json:"content_key_packet,omitempty"`
}

// FileCreated answers CreateFile.
type FileCreated struct {
	NodeID     string `json:"node_id"`
	RevisionID string `json:"revision_id"`
}

// BlockUploadRequest asks for upload targets for a set of blocks of a draft
// revision.
type BlockUploadRequest struct {
	ShareID    string  `json:"share_id"`
	NodeID     string  `json:"node_id"`
	RevisionID string  `json:"revision_id"`
	Blocks     []Block `json:"blocks"`
}

// BlockUploadTarget is where one block is uploaded.
type BlockUploadTarget struct {
	Index   int    `json:"index"`
	BlockID string `json:"block_id"`
}

// CommitRevisionRequest seals a draft revision.
type CommitRevisionRequest struct {
	ManifestSignature []byte    `json:"manifest_signature"`
	SignatureEmail    string    `json:"signature_email,omitempty"`
	Size              int64     `json:"size"`
	ModificationTime  time.Time `json:"modification_time,omitzero"`
	Blocks            []Block   `json:"blocks"`
}

// Metric is one observability data point.
type Metric struct {
	Name   string            `json:"name"`
	Value  int64             `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
	Time   time.Time         `json:"time"`
}
