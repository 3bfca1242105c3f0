package boundary

import (
	"context"

	"github.com/tonimelisma/drivesdk-go/internal/dispatch"
	"github.com/tonimelisma/drivesdk-go/internal/drive"
	"github.com/tonimelisma/drivesdk-go/internal/handle"
	"github.com/tonimelisma/drivesdk-go/internal/observability"
	"github.com/tonimelisma/drivesdk-go/internal/session"
)

type clientRequest struct {
	SigningKeyID   string        `json:"signing_key_id,omitempty"`
	Observability  handle.Handle `json:"observability,omitempty"`
	LoggerProvider handle.Handle `json:"logger_provider,omitempty"`
}

type nodeKeysRequest struct {
	drive.NodeRef
	drive.NodeKeys
}

type shareKeyRequest struct {
	ShareID string `json:"share_id"`
	Key     []byte `json:"key"`
}

type shareRequest struct {
	ShareID string `json:"share_id"`
}

type nameResult struct {
	Name string `json:"name"`
}

// DriveClientCreate binds a drive client to an authenticated session. The
// optional request selects an observability service for transfer metrics, a
// logger provider and the signing key.
func (r *Runtime) DriveClientCreate(sessionHandle handle.Handle, request []byte) (handle.Handle, error) {
	sess, err := handle.Get[*session.Session](r.handles, sessionHandle, handle.KindSession)
	if err != nil {
		return 0, err
	}

	var req clientRequest
	if err := decodeOptional(request, &req); err != nil {
		return 0, err
	}

	logger, err := r.loggerFor(req.LoggerProvider, "drive")
	if err != nil {
		return 0, err
	}

	opts := drive.Options{
		BlockSize:         r.blockSize,
		ParallelDownloads: r.cfg.Transfers.ParallelDownloads,
		ParallelUploads:   r.cfg.Transfers.ParallelUploads,
		Limiter:           r.limiter,
		SigningKeyID:      req.SigningKeyID,
		Logger:            logger,
	}

	if req.Observability != 0 {
		svc, err := handle.Get[*observability.Service](r.handles, req.Observability, handle.KindObservability)
		if err != nil {
			return 0, err
		}

		opts.Metrics = svc
	}

	client, err := drive.NewClient(sess, r.backend.Service(sess), r.cipher, opts)
	if err != nil {
		return 0, err
	}

	return r.handles.Create(handle.KindDriveClient, client)
}

// DriveClientFree releases the client handle. Downloaders, uploaders,
// readers and writers created from it keep working until freed.
func (r *Runtime) DriveClientFree(h handle.Handle) error {
	return r.handles.Free(h, handle.KindDriveClient)
}

// DriveClientRegisterNodeKeys stores the keys of one node, replacing any
// earlier registration.
func (r *Runtime) DriveClientRegisterNodeKeys(h handle.Handle, request []byte) error {
	client, err := handle.Get[*drive.Client](r.handles, h, handle.KindDriveClient)
	if err != nil {
		return err
	}

	var req nodeKeysRequest
	if err := decode(request, &req); err != nil {
		return err
	}

	return client.RegisterNodeKeys(req.NodeRef, req.NodeKeys)
}

// DriveClientRegisterShareKey stores the key of one share.
func (r *Runtime) DriveClientRegisterShareKey(h handle.Handle, request []byte) error {
	client, err := handle.Get[*drive.Client](r.handles, h, handle.KindDriveClient)
	if err != nil {
		return err
	}

	var req shareKeyRequest
	if err := decode(request, &req); err != nil {
		return err
	}

	return client.RegisterShareKey(req.ShareID, req.Key)
}

// pinClient pins a client handle for the duration of an operation.
func (r *Runtime) pinClient(h handle.Handle) (*drive.Client, func(), error) {
	return handle.Pin[*drive.Client](r.handles, h, handle.KindDriveClient)
}

// DriveClientGetVolumes lists the user's volumes.
func (r *Runtime) DriveClientGetVolumes(h handle.Handle, cb Callback) error {
	client, release, err := r.pinClient(h)
	if err != nil {
		return err
	}

	return r.submit("drive_client_get_volumes", cb, func(ctx context.Context, _ dispatch.ProgressFunc) ([]byte, error) {
		volumes, err := client.GetVolumes(ctx)
		if err != nil {
			return nil, err
		}

		return encode(volumes)
	}, release)
}

// DriveClientGetShare fetches one share.
func (r *Runtime) DriveClientGetShare(h handle.Handle, request []byte, cb Callback) error {
	client, release, err := r.pinClient(h)
	if err != nil {
		return err
	}

	var req shareRequest
	if err := decode(request, &req); err != nil {
		release()
		return err
	}

	return r.submit("drive_client_get_share", cb, func(ctx context.Context, _ dispatch.ProgressFunc) ([]byte, error) {
		share, err := client.GetShare(ctx, req.ShareID)
		if err != nil {
			return nil, err
		}

		return encode(share)
	}, release)
}

// DriveClientCreateFile creates a file node with an open draft revision.
func (r *Runtime) DriveClientCreateFile(h handle.Handle, request []byte, cb Callback) error {
	client, release, err := r.pinClient(h)
	if err != nil {
		return err
	}

	var req drive.CreateFileRequest
	if err := decode(request, &req); err != nil {
		release()
		return err
	}

	return r.submit("drive_client_create_file", cb, func(ctx context.Context, _ dispatch.ProgressFunc) ([]byte, error) {
		file, err := client.CreateFile(ctx, req)
		if err != nil {
			return nil, err
		}

		return encode(file)
	}, release)
}

// DriveClientDecryptArmoredName decrypts a node name with its parent's key.
func (r *Runtime) DriveClientDecryptArmoredName(h handle.Handle, request []byte, cb Callback) error {
	client, release, err := r.pinClient(h)
	if err != nil {
		return err
	}

	var req drive.NameRequest
	if err := decode(request, &req); err != nil {
		release()
		return err
	}

	return r.submit("drive_client_decrypt_armored_name", cb, func(ctx context.Context, _ dispatch.ProgressFunc) ([]byte, error) {
		name, err := client.DecryptArmoredName(ctx, req)
		if err != nil {
			return nil, err
		}

		return encode(nameResult{Name: name})
	}, release)
}

// DriveClientOpenRevisionForReading answers with a revision reader handle.
// An empty revision id selects the node's active revision.
func (r *Runtime) DriveClientOpenRevisionForReading(h handle.Handle, request []byte, cb Callback) error {
	client, release, err := r.pinClient(h)
	if err != nil {
		return err
	}

	var ref drive.RevisionRef
	if err := decode(request, &ref); err != nil {
		release()
		return err
	}

	return submitHandle(r, "drive_client_open_revision_for_reading", handle.KindRevisionReader, cb,
		func(ctx context.Context) (*drive.RevisionReader, error) {
			return client.OpenRevisionForReading(ctx, ref)
		}, release)
}

// DriveClientOpenRevisionForWriting answers with a revision writer handle.
// An empty revision id creates a new draft on the node.
func (r *Runtime) DriveClientOpenRevisionForWriting(h handle.Handle, request []byte, cb Callback) error {
	client, release, err := r.pinClient(h)
	if err != nil {
		return err
	}

	var ref drive.RevisionRef
	if err := decode(request, &ref); err != nil {
		release()
		return err
	}

	return submitHandle(r, "drive_client_open_revision_for_writing", handle.KindRevisionWriter, cb,
		func(ctx context.Context) (*drive.RevisionWriter, error) {
			return client.OpenRevisionForWriting(ctx, ref)
		}, release)
}
