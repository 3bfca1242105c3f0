package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivesdk-go/internal/boundary"
	"github.com/tonimelisma/drivesdk-go/internal/handle"
	"github.com/tonimelisma/drivesdk-go/internal/statefile"
)

// Environment variables that supply secrets without a prompt.
const (
	envPassword      = "DRIVESDK_PASSWORD"
	envKeyPassphrase = "DRIVESDK_KEY_PASSPHRASE"
)

// defaultKeyID names a user key added at login without --key-id.
const defaultKeyID = "primary"

var (
	flagUsername string
	flagKeyID    string
	flagKeyFile  string
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and save the session",
		Long: "Begins a session with username and password and saves its exported state.\n" +
			"The password is read from " + envPassword + " or, failing that, from the first line of stdin.",
		RunE: runLogin,
	}

	cmd.Flags().StringVar(&flagUsername, "username", "", "account username")
	cmd.Flags().StringVar(&flagKeyID, "key-id", "", "id of the user key added with --key-file")
	cmd.Flags().StringVar(&flagKeyFile, "key-file", "", "armored locked user key to add to the session")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the saved session and remove its state",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the saved session",
		RunE:  runWhoami,
	}
}

// readPassword returns the password from the environment or the first line
// of r.
func readPassword(r io.Reader) (string, error) {
	if p := os.Getenv(envPassword); p != "" {
		return p, nil
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("no password given: set %s or pipe it on stdin", envPassword)
	}

	return line, nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	ctx, stop := interruptContext(cmd.Context(), logger)
	defer stop()

	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return err
	}

	h, err := openHarness(logger)
	if err != nil {
		return err
	}
	defer h.Close()

	req, err := json.Marshal(map[string]string{"username": flagUsername, "password": password})
	if err != nil {
		return err
	}

	logger.Info("login started")

	sess, err := h.awaitHandle(ctx, "login", func(cb boundary.Callback) error {
		return h.rt.SessionBegin(req, boundary.SessionOptions{}, cb)
	})
	if err != nil {
		return err
	}

	if flagKeyFile != "" {
		if err := addLockedKey(h, sess, password); err != nil {
			return err
		}
	}

	state, err := h.rt.SessionExport(sess)
	if err != nil {
		return fmt.Errorf("exporting session: %w", err)
	}

	meta := map[string]string{
		"username": flagUsername,
		"base_url": resolvedCfg.Network.BaseURL,
		"saved_at": time.Now().UTC().Format(time.RFC3339),
	}

	if err := statefile.Save(statePath(), state, meta); err != nil {
		return err
	}

	logger.Info("login successful")
	statusf("Logged in as %s.\n", flagUsername)

	return nil
}

// addLockedKey unlocks --key-file and adds it to the session. The passphrase
// defaults to the account password.
func addLockedKey(h *harness, sess handle.Handle, password string) error {
	armored, err := os.ReadFile(flagKeyFile)
	if err != nil {
		return fmt.Errorf("reading key file: %w", err)
	}

	passphrase := os.Getenv(envKeyPassphrase)
	if passphrase == "" {
		passphrase = password
	}

	keyID := flagKeyID
	if keyID == "" {
		keyID = defaultKeyID
	}

	req, err := json.Marshal(map[string]string{
		"key_id":      keyID,
		"armored_key": string(armored),
		"passphrase":  passphrase,
	})
	if err != nil {
		return err
	}

	if err := h.rt.SessionAddArmoredLockedUserKey(sess, req); err != nil {
		return fmt.Errorf("adding user key: %w", err)
	}

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	h, err := openHarness(logger)
	if err != nil {
		return err
	}
	defer h.Close()

	sess, err := h.resume()
	if errors.Is(err, errNotLoggedIn) {
		statusf("Not logged in.\n")
		return nil
	}

	if err != nil {
		return err
	}

	if _, err := h.await(cmd.Context(), "logout", func(cb boundary.Callback) error {
		return h.rt.SessionEnd(sess, cb)
	}, nil); err != nil {
		return err
	}

	if err := statefile.Remove(statePath()); err != nil {
		return err
	}

	logger.Info("logout successful")
	statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	SessionID string   `json:"session_id"`
	Username  string   `json:"username"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	State     string   `json:"state"`
	KeyIDs    []string `json:"key_ids"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	h, err := openHarness(buildLogger())
	if err != nil {
		return err
	}
	defer h.Close()

	sess, err := h.resume()
	if err != nil {
		return err
	}

	data, err := h.rt.SessionInfo(sess)
	if err != nil {
		return err
	}

	var out whoamiOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decoding session info: %w", err)
	}

	w := cmd.OutOrStdout()

	if flagJSON {
		return printJSON(w, out)
	}

	fmt.Fprintf(w, "User:    %s (%s)\n", out.Username, out.UserID)
	fmt.Fprintf(w, "Session: %s (%s)\n", out.SessionID, out.State)
	fmt.Fprintf(w, "Scopes:  %s\n", strings.Join(out.Scopes, ", "))
	fmt.Fprintf(w, "Keys:    %s\n", strings.Join(out.KeyIDs, ", "))

	return nil
}
