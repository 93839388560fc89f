// Package daemon serves authorization decisions over a unix socket.
//
// The daemon holds one immutable rule snapshot at a time and swaps it
// whole when a watched rule source changes, so hooks avoid re-reading
// settings files on every tool call. It never executes commands.
package daemon

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

// Options configures a Daemon.
type Options struct {
	SocketPath string
	Root       string
	Loader     Loader
	// WatchPaths are reloaded on change. Empty disables watching.
	WatchPaths []string
	Logger     *log.Logger
}

// Daemon ties the service, the socket server and the watcher together.
type Daemon struct {
	opts   Options
	svc    *Service
	logger *log.Logger
}

// New creates a daemon. It does not listen until Run.
func New(opts Options) (*Daemon, error) {
	if opts.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	if opts.Loader == nil {
		return nil, fmt.Errorf("rule loader is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default().WithPrefix("daemon")
	}
	return &Daemon{
		opts:   opts,
		svc:    NewService(opts.Root, opts.Loader, logger),
		logger: logger,
	}, nil
}

// Service returns the daemon's authorization service.
func (d *Daemon) Service() *Service { return d.svc }

// Run loads the rules, listens, and serves until ctx is done. ready, when
// non-nil, is called once the socket accepts connections.
func (d *Daemon) Run(ctx context.Context, ready func(*IPCServer)) error {
	if _, err := d.svc.Reload(ctx); err != nil {
		return err
	}

	srv, err := NewIPCServer(d.opts.SocketPath, d.svc, d.logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if len(d.opts.WatchPaths) > 0 {
		w, err := NewWatcher(d.opts.WatchPaths)
		if err != nil {
			d.logger.Warn("hot reload disabled", "error", err)
		} else {
			w.logger = d.logger.WithPrefix("watcher")
			if err := w.Start(ctx); err != nil {
				_ = srv.Stop()
				return err
			}
			defer w.Stop()
			go d.reloadOnChange(ctx, w)
			d.logger.Info("watching rule sources", "dirs", w.Dirs())
		}
	}

	d.logger.Info("listening", "socket", srv.SocketPath(), "root", d.opts.Root)
	if ready != nil {
		ready(srv)
	}
	return srv.Start(ctx)
}

func (d *Daemon) reloadOnChange(ctx context.Context, w *Watcher) {
	events, errs := w.Events(), w.Errors()
	for events != nil || errs != nil {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.logger.Debug("rule source changed", "path", ev.Path, "op", ev.Op.String())
			if _, err := d.svc.Reload(ctx); err != nil {
				d.logger.Error("reload failed", "error", err)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.Warn("watcher error", "error", err)
		}
	}
}
