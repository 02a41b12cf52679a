package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "tomlkit-schema-service/internal/api/grpc"
)

// Typing is simulated by sending growing prefixes of the file.
const chunkSize = 64
const chunkInterval = 50 * time.Millisecond

func main() {
	file := flag.String("file", "../../testdata/Cargo.toml", "Path to a TOML file")
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	typing := flag.Bool("typing", false, "Send the file in growing chunks, as if typed")
	wait := flag.Duration("wait", 3*time.Second, "How long to watch diagnostics after the last edit")
	flag.Parse()

	text, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("Failed to read file: %v", err)
	}
	abs, err := filepath.Abs(*file)
	if err != nil {
		log.Fatalf("Failed to resolve path: %v", err)
	}
	uri := "file://" + filepath.ToSlash(abs)

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	client := grpcapi.NewClient(conn)
	log.Printf("Connected to server %s", *serverAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := client.WatchDiagnostics(ctx, &grpcapi.WatchRequest{URI: uri})
	if err != nil {
		log.Fatalf("failed to watch diagnostics: %v", err)
	}
	go printDiagnostics(watcher)

	version := int32(1)
	if *typing {
		for end := chunkSize; end < len(text); end += chunkSize {
			send(ctx, client, uri, version, string(text[:end]))
			version++
			time.Sleep(chunkInterval)
		}
	}
	send(ctx, client, uri, version, string(text))

	time.Sleep(*wait)

	report, err := client.LookupSchema(ctx, &grpcapi.LookupRequest{File: abs})
	if err != nil {
		log.Printf("Schema lookup failed: %v", err)
	} else {
		log.Printf("Schema: %s", report)
	}

	if _, err := client.CloseDocument(ctx, &grpcapi.URIRequest{URI: uri}); err != nil {
		log.Printf("Failed to close document: %v", err)
	}
}

func send(ctx context.Context, client *grpcapi.Client, uri string, version int32, text string) {
	req := &grpcapi.DocumentRequest{URI: uri, LanguageID: "toml", Version: version, Text: text}
	var err error
	if version == 1 {
		_, err = client.OpenDocument(ctx, req)
	} else {
		_, err = client.ChangeDocument(ctx, req)
	}
	if err != nil {
		log.Fatalf("failed to send version %d: %v", version, err)
	}
	log.Printf("Sent version %d (%d bytes)", version, len(text))
}

func printDiagnostics(w *grpcapi.DiagnosticsWatcher) {
	for {
		resp, err := w.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Printf("Diagnostics stream ended: %v", err)
			return
		}
		log.Printf("Diagnostics: version=%d sequence=%d count=%d", resp.Version, resp.Sequence, len(resp.Diagnostics))
		for _, d := range resp.Diagnostics {
			log.Printf("  %d:%d-%d:%d %s %s",
				d.Range.Start.Line+1, d.Range.Start.Character+1,
				d.Range.End.Line+1, d.Range.End.Character+1,
				d.Severity, d.Message)
		}
	}
}
