// Command tcpecho is a minimal driver for go-nio: it either serves an echo
// server or dials one and round-trips a line, exercising Connect/Listen/
// Read/Write/Close end to end for manual verification.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/behrlich/go-nio"
)

func main() {
	var (
		mode    = flag.String("mode", "server", "server or client")
		host    = flag.String("host", "127.0.0.1", "address to bind or dial")
		port    = flag.Int("port", 9443, "port to bind or dial")
		verbose = flag.Bool("v", false, "log every accepted connection's close reason")
	)
	flag.Parse()

	switch *mode {
	case "server":
		runServer(*host, *port, *verbose)
	case "client":
		runClient(*host, *port)
	default:
		log.Fatalf("unknown -mode %q, want server or client", *mode)
	}
}

func runServer(host string, port int, verbose bool) {
	ln, err := nio.Listen(host, port)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	fmt.Printf("tcpecho: listening on %s:%d\n", host, port)

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("accept: %v", err)
			continue
		}
		if verbose {
			conn.OnClose(func(err error) {
				fmt.Printf("tcpecho: connection closed: %v\n", err)
			})
		}
		go serveEcho(conn)
	}
}

func serveEcho(conn *nio.TCPClient) {
	buf := nio.NewBuffer(nio.DefaultReadBufferSize)
	for {
		buf.Reset()
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		_ = buf.SetLimit(n)
		_ = buf.SetCursor(0)
		if err := conn.Write(buf); err != nil {
			return
		}
	}
}

func runClient(host string, port int) {
	conn, err := nio.Connect(host, port)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	payload := []byte("hello from tcpecho\n")
	out := nio.WrapBuffer(payload)
	if err := conn.Write(out); err != nil {
		log.Fatalf("write: %v", err)
	}

	in := nio.NewBuffer(len(payload))
	if _, err := conn.ReadMin(in, len(payload)); err != nil {
		log.Fatalf("read: %v", err)
	}
	_, _ = os.Stdout.Write(in.ToArray())
}
