// Command healthctl is a minimal client for healthagentd's Unix-domain
// control socket (spec.md §4.4/§6): connect, write one command, half-close
// the write side, read the JSON response until EOF, print it.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/nodeops/healthagent/internal/config"
)

func main() {
	socketPath := flag.String("socket", "", "path to the agent's control socket (defaults to <data-dir>/run/health.sock)")
	dataDir := flag.String("data-dir", "", "agent working directory, used to derive the default socket path")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	raw := flag.Bool("raw", false, "print the response body verbatim instead of pretty-printed JSON")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: healthctl [flags] <status|epilog|version>")
		os.Exit(2)
	}
	cmd := flag.Arg(0)

	path := *socketPath
	if path == "" {
		path = defaultSocketPath(*dataDir)
	}

	if err := run(path, cmd, *timeout, *raw); err != nil {
		fmt.Fprintf(os.Stderr, "healthctl: %v\n", err)
		os.Exit(-1)
	}
}

func defaultSocketPath(dataDirFlag string) string {
	dir := dataDirFlag
	if dir == "" {
		dir = os.Getenv("HEALTHAGENT_DIR")
	}
	if dir == "" {
		dir = config.DefaultWorkdir
	}
	return dir + "/run/health.sock"
}

func run(socketPath, cmd string, timeout time.Duration, raw bool) error {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	if _, err := conn.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return fmt.Errorf("half-close write side: %w", err)
		}
	}

	body, err := io.ReadAll(conn)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(body) == 0 {
		return fmt.Errorf("no response from agent")
	}

	if raw {
		os.Stdout.Write(body)
		if len(body) > 0 && body[len(body)-1] != '\n' {
			fmt.Println()
		}
		return nil
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		// Not JSON; print the body as received.
		os.Stdout.Write(body)
		fmt.Println()
		return nil
	}
	pretty.WriteTo(os.Stdout)
	fmt.Println()
	return nil
}
