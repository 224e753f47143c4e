// Command pfresolvectl sends control requests to a running pfresolved
// daemon over its Unix control socket.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/genua/pfresolved"
)

type options struct {
	socket string
}

func main() {
	var opt options

	root := &cobra.Command{
		Use:          "pfresolvectl",
		Short:        "Control a running pfresolved daemon",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opt.socket, "socket", "s", pfresolved.DefaultControlSocket, "control socket path")

	root.AddCommand(logCmd(&opt), reloadCmd(&opt), hintsCmd(&opt))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func logCmd(opt *options) *cobra.Command {
	return &cobra.Command{
		Use:   "log <level>",
		Short: "Change the daemon's log verbosity (0=info, 1=debug, 2=trace)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.Atoi(args[0]); err != nil {
				return fmt.Errorf("invalid log level %q", args[0])
			}
			return send(opt.socket, "log "+args[0])
		},
	}
}

func reloadCmd(opt *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(opt.socket, "reload")
		},
	}
}

func hintsCmd(opt *options) *cobra.Command {
	return &cobra.Command{
		Use:   "hints",
		Short: "Write the hints file immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(opt.socket, "hints")
		},
	}
}

// send connects to the control socket, writes a single newline-terminated
// command, and prints the daemon's one-line reply, mirroring
// pfresolvectl.c's fire-and-confirm imsg exchange.
func send(socket, cmd string) error {
	conn, err := net.DialTimeout("unix", socket, 2*time.Second)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", socket, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintln(conn, cmd); err != nil {
		return fmt.Errorf("sending command: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	fmt.Println(reply)
	if strings.HasPrefix(reply, "error:") {
		return fmt.Errorf("%s", reply)
	}
	return nil
}
