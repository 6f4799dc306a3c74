package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/itskernel/backend/daemon/service"
)

var (
	addr      string
	useQUIC   bool
	outputDir string
	timeout   time.Duration
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: stream_client [options] <command> [args]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  ls                 list files offered by the server")
	fmt.Fprintln(os.Stderr, "  sendin <name>      download a file into -output-dir")
	fmt.Fprintln(os.Stderr, "  sendout <path>     upload a file")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Options:")
	flag.PrintDefaults()
}

func main() {
	flag.StringVar(&addr, "addr", "127.0.0.1:17571", "Server address (host:port)")
	flag.BoolVar(&useQUIC, "quic", false, "Connect over QUIC instead of TCP")
	flag.StringVar(&outputDir, "output-dir", ".", "Directory for downloaded files")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}
	if err := run(flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var (
		client *service.StreamClient
		err    error
	)
	if useQUIC {
		client, err = service.DialQUIC(ctx, addr)
	} else {
		client, err = service.DialTCP(ctx, addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer client.Close()
	defer client.Exit()

	switch command {
	case "ls":
		names, err := client.List()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
	case "sendin":
		if len(args) != 1 {
			return fmt.Errorf("sendin needs a file name")
		}
		data, err := client.SendIn(args[0])
		if err != nil {
			return err
		}
		if string(data) == service.MissingFilePayload {
			fmt.Fprintf(os.Stderr, "Warning: server may not have %s\n", args[0])
		}
		out := filepath.Join(outputDir, filepath.Base(args[0]))
		if err := os.WriteFile(out, data, 0644); err != nil {
			return err
		}
		fmt.Printf("Saved %s (%d bytes)\n", out, len(data))
	case "sendout":
		if len(args) != 1 {
			return fmt.Errorf("sendout needs a file path")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if err := client.SendOut(filepath.Base(args[0]), data); err != nil {
			return err
		}
		fmt.Printf("Uploaded %s (%d bytes)\n", filepath.Base(args[0]), len(data))
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}
