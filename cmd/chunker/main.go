package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/itskernel/backend/internal/chunker"
	"github.com/itskernel/backend/internal/datagram"
)

// chunkInfo describes one datagram of the block.
type chunkInfo struct {
	BlockID    uint32 `json:"block_id"`
	ChunkCount uint32 `json:"chunk_count"`
	ChunkID    uint32 `json:"chunk_id"`
	PayloadLen uint16 `json:"payload_len"`
	WireSize   int    `json:"wire_size"`
}

func main() {
	chunkSize := flag.Int("chunk-size", chunker.DefaultChunkOptions().ChunkSize, "Payload bytes per datagram")
	blockID := flag.Uint("block-id", 0, "Block id to assign")
	output := flag.String("output", "", "Output listing to file (default: stdout)")
	pretty := flag.Bool("pretty", true, "Pretty-print JSON output")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: chunker [options] <file_path>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Prints the datagrams a file would be sent as.")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	filePath := flag.Arg(0)
	data, err := os.ReadFile(filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	chunks, err := chunker.SplitBlock(uint32(*blockID), data, chunker.ChunkOptions{ChunkSize: *chunkSize})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(3)
	}

	infos := make([]chunkInfo, 0, len(chunks))
	for _, c := range chunks {
		infos = append(infos, chunkInfo{
			BlockID:    c.Header.BlockID,
			ChunkCount: c.Header.ChunkCount,
			ChunkID:    c.Header.ChunkID,
			PayloadLen: uint16(len(c.Payload)),
			WireSize:   datagram.HeaderSize + len(c.Payload),
		})
	}

	var jsonData []byte
	if *pretty {
		jsonData, err = json.MarshalIndent(infos, "", "  ")
	} else {
		jsonData, err = json.Marshal(infos)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error serializing listing: %v\n", err)
		os.Exit(4)
	}

	if *output != "" {
		if err := os.WriteFile(*output, jsonData, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
			os.Exit(5)
		}
		fmt.Fprintf(os.Stderr, "Listing written to: %s\n", *output)
	} else {
		fmt.Println(string(jsonData))
	}

	fmt.Fprintf(os.Stderr, "%d bytes in %d datagrams\n", len(data), len(chunks))
}
