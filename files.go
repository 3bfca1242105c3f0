package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivesdk-go/internal/api"
	"github.com/tonimelisma/drivesdk-go/internal/boundary"
	"github.com/tonimelisma/drivesdk-go/internal/drive"
)

var (
	flagRevision  string
	flagName      string
	flagMediaType string
)

func newVolumesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "volumes",
		Short: "List the account's volumes",
		Args:  cobra.NoArgs,
		RunE:  runVolumes,
	}
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <share-id> <volume-id> <node-id> <local-path>",
		Short: "Download a file revision",
		Args:  cobra.ExactArgs(4),
		RunE:  runGet,
	}

	cmd.Flags().StringVar(&flagRevision, "revision", "", "revision id (default: the active revision)")

	return cmd
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <share-id> <volume-id> <parent-node-id> <local-path>",
		Short: "Upload a local file as a new file",
		Args:  cobra.ExactArgs(4),
		RunE:  runPut,
	}

	cmd.Flags().StringVar(&flagName, "name", "", "remote name (default: the local file name)")
	cmd.Flags().StringVar(&flagMediaType, "media-type", "", "media type (default: detected from content)")

	return cmd
}

func runVolumes(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	ctx, stop := interruptContext(cmd.Context(), logger)
	defer stop()

	h, err := openHarness(logger)
	if err != nil {
		return err
	}
	defer h.Close()

	sess, client, err := h.openClient()
	if err != nil {
		return err
	}
	defer h.persist(sess)

	payload, err := h.await(ctx, "listing volumes", func(cb boundary.Callback) error {
		return h.rt.DriveClientGetVolumes(client, cb)
	}, nil)
	if err != nil {
		return err
	}

	var volumes []api.Volume
	if err := json.Unmarshal(payload, &volumes); err != nil {
		return fmt.Errorf("decoding volumes: %w", err)
	}

	w := cmd.OutOrStdout()

	if flagJSON {
		return printJSON(w, volumes)
	}

	rows := make([][]string, 0, len(volumes))

	for _, v := range volumes {
		quota := "-"
		if v.MaxSpace > 0 {
			quota = formatSize(v.MaxSpace)
		}

		rows = append(rows, []string{v.VolumeID, v.ShareID, strconv.Itoa(v.State), formatSize(v.UsedSpace), quota})
	}

	printTable(w, []string{"VOLUME", "SHARE", "STATE", "USED", "QUOTA"}, rows)

	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	shareID, volumeID, nodeID, localPath := args[0], args[1], args[2], args[3]
	logger := buildLogger()

	ctx, stop := interruptContext(cmd.Context(), logger)
	defer stop()

	h, err := openHarness(logger)
	if err != nil {
		return err
	}
	defer h.Close()

	sess, client, err := h.openClient()
	if err != nil {
		return err
	}
	defer h.persist(sess)

	if err := h.openShare(ctx, client, shareID); err != nil {
		return err
	}

	downloader, err := h.awaitHandle(ctx, "creating downloader", func(cb boundary.Callback) error {
		return h.rt.DownloaderCreate(client, cb)
	})
	if err != nil {
		return err
	}
	defer h.rt.DownloaderFree(downloader) //nolint:errcheck // runtime close frees it regardless

	req, err := json.Marshal(drive.DownloadRequest{
		ShareID:    shareID,
		VolumeID:   volumeID,
		NodeID:     nodeID,
		RevisionID: flagRevision,
		TargetPath: localPath,
	})
	if err != nil {
		return err
	}

	logger.Debug("get", "node_id", nodeID, "local_path", localPath)

	payload, err := h.await(ctx, "downloading", func(cb boundary.Callback) error {
		return h.rt.DownloaderDownloadFile(downloader, req, cb)
	}, newProgressPrinter("Downloading").report)
	if err != nil {
		return err
	}

	var res drive.DownloadResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return fmt.Errorf("decoding download result: %w", err)
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}

	statusf("Downloaded %s (%s, signature %s)\n", localPath, formatSize(res.Size), res.Verification)

	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	shareID, volumeID, parentID, localPath := args[0], args[1], args[2], args[3]
	logger := buildLogger()

	fi, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stating local file: %w", err)
	}

	if fi.IsDir() {
		return fmt.Errorf("%q is a directory, not a file", localPath)
	}

	name := flagName
	if name == "" {
		name = filepath.Base(localPath)
	}

	ctx, stop := interruptContext(cmd.Context(), logger)
	defer stop()

	h, err := openHarness(logger)
	if err != nil {
		return err
	}
	defer h.Close()

	sess, client, err := h.openClient()
	if err != nil {
		return err
	}
	defer h.persist(sess)

	if err := h.openShare(ctx, client, shareID); err != nil {
		return err
	}

	sizeReq, err := json.Marshal(map[string]int64{"size": fi.Size()})
	if err != nil {
		return err
	}

	uploader, err := h.awaitHandle(ctx, "creating uploader", func(cb boundary.Callback) error {
		return h.rt.UploaderCreate(client, sizeReq, cb)
	})
	if err != nil {
		return err
	}
	defer h.rt.UploaderFree(uploader) //nolint:errcheck // runtime close frees it regardless

	req, err := json.Marshal(drive.UploadRequest{
		ShareID:          shareID,
		VolumeID:         volumeID,
		ParentNodeID:     parentID,
		Name:             name,
		MediaType:        flagMediaType,
		SourcePath:       localPath,
		ModificationTime: fi.ModTime().UTC().Truncate(time.Second),
	})
	if err != nil {
		return err
	}

	logger.Debug("put", "local_path", localPath, "name", name, "size", fi.Size())

	payload, err := h.await(ctx, "uploading", func(cb boundary.Callback) error {
		return h.rt.UploaderUploadFile(uploader, req, cb)
	}, newProgressPrinter("Uploading").report)
	if err != nil {
		return err
	}

	var res drive.UploadResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return fmt.Errorf("decoding upload result: %w", err)
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}

	statusf("Uploaded %s as node %s (%s, %s)\n", localPath, res.NodeID, formatSize(res.Size), formatTime(res.ModificationTime))

	return nil
}
