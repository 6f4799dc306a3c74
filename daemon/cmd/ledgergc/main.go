package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/itskernel/backend/daemon/manager"
)

func main() {
	path := flag.String("db", "ledger.db", "Path to the receipt ledger")
	maxAge := flag.Duration("max-age", 30*24*time.Hour, "Max age for receipts")
	list := flag.Int("list", 0, "Print this many most recent receipts after GC")
	flag.Parse()

	ledger, err := manager.OpenLedger(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer ledger.Close()

	removed, err := ledger.GC(*maxAge)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ledger GC removed %d receipts older than %s\n", removed, maxAge.String())

	if *list > 0 {
		receipts, err := ledger.Recent(*list)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, r := range receipts {
			fmt.Printf("%s  %-8s %10d  %s  %s\n", r.ReceivedAt.Format(time.RFC3339), r.Transport, r.Size, r.Hash[:16], r.FileName)
		}
	}
}
