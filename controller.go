package pfresolved

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Link is the privileged side's connection to the resolver worker: a
// length-delimited message stream over a socketpair, set up by
// internal/privsep before the worker drops privilege.
type Link struct {
	w  io.Writer
	r  *bufio.Reader
	mu sync.Mutex
}

// NewLink wraps an already-connected byte stream (typically the
// controller's end of a unix.Socketpair) as a Link.
func NewLink(rw io.ReadWriter) *Link {
	return &Link{w: rw, r: bufio.NewReader(rw)}
}

// Send writes a single message to the link. Safe for concurrent use.
func (l *Link) Send(m Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return WriteMessage(l.w, m)
}

// Receive reads the next message from the link. Only one goroutine may
// call Receive at a time; it is not safe for concurrent use with itself.
func (l *Link) Receive() (Message, error) {
	return ReadMessage(l.r)
}

// Controller is the privileged half of the daemon. It owns the table/host
// graph, the refresh scheduler, the kernel table pusher, and the hints file
// writer, and drives the worker over a Link. It never parses untrusted DNS
// answers itself, matching the original's privilege split between
// pfresolved.c (parent) and forwarder.c (child).
type Controller struct {
	ConfigPath string

	mu        sync.Mutex
	cfg       *Config
	tables    []*Table
	hosts     []*Host
	pusher    TablePusher
	scheduler *Scheduler
	hints     *HintsWriter
	link      *Link
}

// NewController loads the initial configuration and wires the scheduler,
// table pusher and hints writer, but does not yet start resolving or talk
// to the kernel.
func NewController(configPath string, link *Link, pusher TablePusher) (*Controller, error) {
	c := &Controller{ConfigPath: configPath, link: link, pusher: pusher}
	if err := c.loadConfig(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Controller) loadConfig() error {
	cfg, err := LoadConfig(c.ConfigPath)
	if err != nil {
		return err
	}
	tables, hosts, err := cfg.ResolveTables()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cfg = cfg
	c.tables = tables
	c.hosts = hosts
	c.hints = &HintsWriter{Path: cfg.HintsFile, Tables: tables, Hosts: hosts}
	c.scheduler = NewScheduler(hosts, cfg.MinTTL, cfg.MaxTTL, c.sendResolveRequest, c.pusher)
	c.mu.Unlock()
	return nil
}

func (c *Controller) sendResolveRequest(hostname string, family AddressFamily) {
	err := c.link.Send(Message{Type: MessageResolveReq, Hostname: hostname, Family: family})
	if err != nil {
		Log.WithFields(logrus.Fields{"component": "controller", "host": hostname, "family": family}).
			WithError(err).Error("failed to send resolve request to worker")
	}
}

// InitPFTables pushes every configured table's current (static) entries to
// the kernel once at startup, matching parent_init_pftables.
func (c *Controller) InitPFTables() error {
	c.mu.Lock()
	tables := append([]*Table(nil), c.tables...)
	c.mu.Unlock()

	var firstErr error
	for _, t := range tables {
		if err := c.pusher.SetAddresses(t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run starts the resolve scheduler, dispatches results coming back from the
// worker, and blocks until ctx is cancelled (typically by SIGTERM/SIGINT).
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	sched := c.scheduler
	c.mu.Unlock()

	sched.Start()
	defer sched.Stop()

	results := make(chan Message)
	errs := make(chan error, 1)
	go func() {
		for {
			m, err := c.link.Receive()
			if err != nil {
				errs <- err
				return
			}
			results <- m
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM, syscall.SIGPIPE)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			c.writeHints()
			c.clearAllTables()
			return nil
		case m := <-results:
			c.handleResult(m)
		case err := <-errs:
			c.writeHints()
			c.clearAllTables()
			return fmt.Errorf("worker link closed: %w", err)
		case s := <-sig:
			if done := c.handleSignal(s); done {
				c.clearAllTables()
				return nil
			}
		}
	}
}

func (c *Controller) handleResult(m Message) {
	c.mu.Lock()
	sched := c.scheduler
	c.mu.Unlock()
	sched.HandleResult(m.Hostname, m.Family, m.Type == MessageResolveOk, int(m.TTL), m.Records)
}

// handleSignal applies the signal disposition from spec.md §7: SIGHUP
// reloads the configuration, SIGUSR1 rewrites the hints file, SIGPIPE is
// ignored, and SIGINT/SIGTERM write a final hints file and report shutdown.
func (c *Controller) handleSignal(s os.Signal) (shutdown bool) {
	switch s {
	case syscall.SIGHUP:
		Log.WithField("component", "controller").Info("reloading configuration")
		if err := c.Reload(); err != nil {
			Log.WithField("component", "controller").WithError(err).Error("reload failed, keeping previous configuration")
		}
		c.writeHints()
	case syscall.SIGUSR1:
		c.writeHints()
	case syscall.SIGPIPE:
		Log.WithField("component", "controller").Info("ignoring SIGPIPE")
	case syscall.SIGINT, syscall.SIGTERM:
		c.writeHints()
		return true
	}
	return false
}

// clearAllTables empties every known pf table, the shutdown half of the
// "clear at shutdown and at reload start" rule in spec.md §4.5.
func (c *Controller) clearAllTables() {
	c.mu.Lock()
	tables := append([]*Table(nil), c.tables...)
	c.mu.Unlock()
	for _, t := range tables {
		if err := c.pusher.ClearAddresses(t.Name); err != nil {
			Log.WithFields(logrus.Fields{"component": "controller", "table": t.Name}).
				WithError(err).Warn("failed to clear pf table on shutdown")
		}
	}
}

func (c *Controller) writeHints() {
	c.mu.Lock()
	h := c.hints
	c.mu.Unlock()
	if err := h.Write(); err != nil {
		logHintsWriteError(err)
	}
}

// Reload re-reads the configuration file, rebuilds the table/host graph,
// and restarts the scheduler against it. Matches parent_reload's call
// sequence: stop timers, clear every known pf table, reparse, rebuild pf
// state, restart timers. Clearing every old table before the new config is
// parsed (rather than diffing old against new names) is what guarantees a
// table dropped from the configuration never keeps stale learned entries.
func (c *Controller) Reload() error {
	c.mu.Lock()
	oldSched := c.scheduler
	oldTables := append([]*Table(nil), c.tables...)
	c.mu.Unlock()
	if oldSched != nil {
		oldSched.Stop()
	}
	for _, t := range oldTables {
		if err := c.pusher.ClearAddresses(t.Name); err != nil {
			Log.WithFields(logrus.Fields{"component": "controller", "table": t.Name}).
				WithError(err).Warn("failed to clear pf table before reload")
		}
	}
	if err := c.loadConfig(); err != nil {
		return err
	}
	if err := c.InitPFTables(); err != nil {
		Log.WithField("component", "controller").WithError(err).Warn("failed to push pf tables after reload")
	}
	c.mu.Lock()
	sched := c.scheduler
	c.mu.Unlock()
	sched.Start()
	return nil
}
