package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/drivesdk-go/internal/boundary"
	"github.com/tonimelisma/drivesdk-go/internal/dispatch"
	"github.com/tonimelisma/drivesdk-go/internal/handle"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
	"github.com/tonimelisma/drivesdk-go/internal/statefile"
)

// errNotLoggedIn is returned when no saved session exists.
var errNotLoggedIn = errors.New("not logged in, run 'drivesdk login' first")

// harness owns one runtime for the lifetime of a command.
type harness struct {
	rt     *boundary.Runtime
	logger *slog.Logger
}

func openHarness(logger *slog.Logger) (*harness, error) {
	backend, err := newBackend(resolvedCfg, logger)
	if err != nil {
		return nil, err
	}

	rt, err := boundary.New(boundary.Options{Config: resolvedCfg, Backend: backend, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &harness{rt: rt, logger: logger}, nil
}

func (h *harness) Close() {
	if err := h.rt.Close(); err != nil {
		h.logger.Warn("runtime shutdown incomplete", slog.String("error", err.Error()))
	}
}

// outcome is the terminal callback of one operation.
type outcome struct {
	payload []byte
	failure []byte
}

// await starts an asynchronous entry point and blocks until its terminal
// callback. Cancelling ctx cancels the operation through a token source.
func (h *harness) await(
	ctx context.Context, op string, start func(cb boundary.Callback) error, onProgress func(dispatch.Progress),
) ([]byte, error) {
	token := h.rt.CancellationTokenSourceCreate()
	defer func() { _ = h.rt.CancellationTokenSourceFree(token) }()

	done := make(chan outcome, 1)

	cb := boundary.Callback{
		OnSuccess:    func(p []byte) { done <- outcome{payload: p} },
		OnFailure:    func(rec []byte) { done <- outcome{failure: rec} },
		Cancellation: token,
	}

	if onProgress != nil {
		cb.OnProgress = func(p []byte) {
			var prog dispatch.Progress
			if json.Unmarshal(p, &prog) == nil {
				onProgress(prog)
			}
		}
	}

	if err := start(cb); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var out outcome

	select {
	case out = <-done:
	case <-ctx.Done():
		h.logger.Debug("cancelling operation", slog.String("op", op))
		_ = h.rt.CancellationTokenSourceCancel(token)
		out = <-done
	}

	if out.failure != nil {
		return nil, fmt.Errorf("%s: %w", op, decodeFailure(out.failure))
	}

	return out.payload, nil
}

// awaitHandle is await for entry points that answer with a handle.
func (h *harness) awaitHandle(ctx context.Context, op string, start func(cb boundary.Callback) error) (handle.Handle, error) {
	payload, err := h.await(ctx, op, start, nil)
	if err != nil {
		return 0, err
	}

	var res struct {
		Handle handle.Handle `json:"handle"`
	}

	if err := json.Unmarshal(payload, &res); err != nil {
		return 0, fmt.Errorf("%s: decoding handle: %w", op, err)
	}

	return res.Handle, nil
}

// decodeFailure turns a failure record back into an error that matches the
// sdkerr sentinels.
func decodeFailure(data []byte) error {
	var rec sdkerr.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("undecodable failure record %q: %w", data, err)
	}

	return rec
}

// resume restores the saved session.
func (h *harness) resume() (handle.Handle, error) {
	state, _, err := statefile.Load(statePath())
	if err != nil {
		return 0, err
	}

	if state == nil {
		return 0, errNotLoggedIn
	}

	return h.rt.SessionResume(state, boundary.SessionOptions{})
}

// persist writes the session's current state back to the state file so
// refreshed tokens survive the process.
func (h *harness) persist(sess handle.Handle) {
	state, err := h.rt.SessionExport(sess)
	if err != nil {
		h.logger.Warn("failed to export session", slog.String("error", err.Error()))
		return
	}

	if err := statefile.Update(statePath(), state, nil); err != nil {
		h.logger.Warn("failed to save session state", slog.String("error", err.Error()))
	}
}

// openClient resumes the session and binds a drive client to it.
func (h *harness) openClient() (sess, client handle.Handle, err error) {
	sess, err = h.resume()
	if err != nil {
		return 0, 0, err
	}

	client, err = h.rt.DriveClientCreate(sess, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("creating drive client: %w", err)
	}

	return sess, client, nil
}

// openShare fetches a share so its key is cached on the client.
func (h *harness) openShare(ctx context.Context, client handle.Handle, shareID string) error {
	req, err := json.Marshal(map[string]string{"share_id": shareID})
	if err != nil {
		return err
	}

	_, err = h.await(ctx, "getting share", func(cb boundary.Callback) error {
		return h.rt.DriveClientGetShare(client, req, cb)
	}, nil)

	return err
}
