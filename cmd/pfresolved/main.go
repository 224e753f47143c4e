// Command pfresolved keeps pf address tables in sync with the DNS
// resolution of a configured set of hostnames.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/genua/pfresolved"
	"github.com/genua/pfresolved/dnssec"
	"github.com/genua/pfresolved/internal/privsep"
)

type options struct {
	configFile string
	debug      bool
	noAction   bool
	verbose    int
	instance   int
	role       string
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "pfresolved",
		Short: "Keep pf address tables in sync with DNS",
		Long: `pfresolved resolves a configured set of hostnames and keeps the
firewall's named address tables in sync with the current answers, reacting
to TTL expiry and re-resolving on failure with exponential backoff.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opt)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.StringVarP(&opt.configFile, "file", "f", "/etc/pfresolved.conf", "configuration file")
	flags.BoolVarP(&opt.debug, "debug", "d", false, "do not daemonize, log to stderr")
	flags.BoolVarP(&opt.noAction, "no-action", "n", false, "validate the configuration and exit")
	flags.CountVarP(&opt.verbose, "verbose", "v", "increase log verbosity")
	flags.StringVarP(&opt.role, "P", "P", string(privsep.RoleController), "internal: process role")
	flags.IntVarP(&opt.instance, "I", "I", 0, "internal: process instance")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opt options) error {
	if privsep.Role(opt.role) == privsep.RoleWorker {
		return runWorker(opt)
	}
	return runController(opt)
}

func runController(opt options) error {
	if opt.debug {
		pfresolved.ConfigureDebugLogging(opt.verbose)
	} else if err := pfresolved.ConfigureSyslogLogging("pfresolved", opt.verbose); err != nil {
		return fmt.Errorf("configuring syslog: %w", err)
	}

	cfg, err := pfresolved.LoadConfig(opt.configFile)
	if err != nil {
		return err
	}
	if opt.noAction {
		fmt.Println("configuration OK")
		return nil
	}

	worker, err := privsep.SpawnWorker(0, "-f", opt.configFile)
	if err != nil {
		return fmt.Errorf("spawning resolver worker: %w", err)
	}
	defer worker.Kill()

	link := pfresolved.NewLink(worker.Conn)
	pusher, err := pfresolved.NewTablePusher(cfg.PFDevice)
	if err != nil {
		return fmt.Errorf("opening pf device: %w", err)
	}
	defer pusher.Close()

	ctrl, err := pfresolved.NewController(opt.configFile, link, pusher)
	if err != nil {
		return err
	}
	if err := ctrl.InitPFTables(); err != nil {
		pfresolved.Log.WithError(err).Warn("failed to initialize pf tables")
	}

	ctl, err := pfresolved.NewControlServer(cfg.ControlSocket, ctrl)
	if err != nil {
		return fmt.Errorf("starting control socket: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := ctl.Serve(ctx); err != nil {
			pfresolved.Log.WithError(err).Error("control socket server stopped")
		}
	}()
	defer ctl.Close()

	return ctrl.Run(ctx)
}

func runWorker(opt options) error {
	pfresolved.ConfigureDebugLogging(opt.verbose)

	conn, err := privsep.WorkerConn()
	if err != nil {
		return fmt.Errorf("opening privsep link: %w", err)
	}
	link := pfresolved.NewLink(conn)

	cfg, err := pfresolved.LoadConfig(opt.configFile)
	if err != nil {
		return err
	}

	var forwarders []pfresolved.Forwarder
	for _, addr := range cfg.Resolvers {
		var tlsConfig *tls.Config
		if cfg.UseDoT {
			tlsConfig, err = pfresolved.TLSClientConfig(cfg.CertBundle, "")
			if err != nil {
				return err
			}
		}
		forwarders = append(forwarders, pfresolved.NewUpstreamForwarder(addr, cfg.UseDoT, tlsConfig))
	}

	level := pfresolved.ParseDNSSECLevel(cfg.DNSSECLevel)
	var validator *dnssec.Validator
	if level >= pfresolved.DNSSECValidate && cfg.TrustAnchor != "" {
		validator = dnssec.NewValidator()
		if err := dnssec.LoadTrustAnchors(validator, cfg.TrustAnchor); err != nil {
			return fmt.Errorf("loading trust anchor: %w", err)
		}
	}

	worker := pfresolved.NewWorker(forwarders, level, validator)
	ctx := context.Background()
	worker.WarmUp(ctx)

	if err := privsep.DropPrivileges("_pfresolved", os.TempDir()); err != nil {
		pfresolved.Log.WithError(err).Warn("failed to drop privileges, continuing with current credentials")
	}

	for {
		m, err := readRequest(link)
		if err != nil {
			return fmt.Errorf("worker link closed: %w", err)
		}
		reply := worker.Resolve(ctx, m.Hostname, m.Family)
		if err := sendReply(link, reply); err != nil {
			return fmt.Errorf("replying to controller: %w", err)
		}
	}
}

func readRequest(link *pfresolved.Link) (pfresolved.Message, error) {
	return link.Receive()
}

func sendReply(link *pfresolved.Link, m pfresolved.Message) error {
	return link.Send(m)
}
