// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncarea

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
)

// Trigger files uploaded to a notified system. Both are zero-byte
// markers; the remote side polls for them and then pulls the dump.
const (
	TriggerFileDB    = "db.txt"
	TriggerFileFiles = "files.txt"
)

// Notifier signals an area's target systems that new data is ready to pull
type Notifier interface {
	Notify(ctx context.Context, area *Area) error
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, area *Area) error

func (f NotifierFunc) Notify(ctx context.Context, area *Area) error {
	return f(ctx, area)
}

// NoopNotifier performs no remote handshake
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, area *Area) error { return nil }

// FTPNotifier notifies target systems by uploading the trigger files via
// FTP. Any connect, auth or upload failure is a hard error for the area's
// notification; the caller decides how to compensate.
type FTPNotifier struct {
	Timeout time.Duration
	logger  *slog.Logger
}

// NewFTPNotifier creates an FTP notifier with the given dial timeout
// (0 defaults to 30s).
func NewFTPNotifier(timeout time.Duration, logger *slog.Logger) *FTPNotifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FTPNotifier{Timeout: timeout, logger: logger}
}

// Notify dispatches per system by notify type: "ftp" uploads the two
// trigger files, "none" is a no-op. An unknown type is a configuration
// error.
func (n *FTPNotifier) Notify(ctx context.Context, area *Area) error {
	for _, sys := range area.Systems {
		switch sys.Notify.Type {
		case "", NotifyNone:
			continue
		case NotifyFTP:
			if err := n.notifyFTP(ctx, &sys); err != nil {
				return fmt.Errorf("failed to notify system %s of area %s: %w", sys.Name, area.Name, err)
			}
		default:
			return fmt.Errorf("unknown notify type %q for system %s", sys.Notify.Type, sys.Name)
		}
	}
	return nil
}

func (n *FTPNotifier) notifyFTP(ctx context.Context, sys *System) error {
	port := sys.Notify.Port
	if port == 0 {
		port = 21
	}
	addr := fmt.Sprintf("%s:%d", sys.Notify.Host, port)

	// DialWithDisabledEPSV forces classic passive mode; some of the
	// notified hosts reject EPSV behind their NAT setup.
	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(n.Timeout),
		ftp.DialWithDisabledEPSV(true),
	)
	if err != nil {
		return fmt.Errorf("ftp connect to %s failed: %w", addr, err)
	}
	defer func() {
		if qErr := conn.Quit(); qErr != nil {
			n.logger.Warn("FTP quit failed", "addr", addr, "error", qErr)
		}
	}()

	if err := conn.Login(sys.Notify.User, sys.Notify.Password); err != nil {
		return fmt.Errorf("ftp login to %s failed: %w", addr, err)
	}

	for _, name := range []string{TriggerFileDB, TriggerFileFiles} {
		remote := path.Join(sys.Notify.Path, name)
		if err := conn.Stor(remote, bytes.NewReader(nil)); err != nil {
			return fmt.Errorf("ftp upload of %s to %s failed: %w", remote, addr, err)
		}
	}

	n.logger.Info("Notified system", "system", sys.Name, "addr", addr)
	return nil
}
