// Command proxyhost is the ambient entry point around the relay
// package: it loads configuration, wires logging, dials the configured
// proxy, and blocks until SIGINT or SIGTERM asks it to stop. Driving a real control-plane protocol over the connection is
// out of scope here; this only proves the wiring end to end.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/azure-iot/reverse-tunnel/internal/config"
	"github.com/azure-iot/reverse-tunnel/internal/logging"
	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
	"github.com/azure-iot/reverse-tunnel/internal/relay"
	"github.com/azure-iot/reverse-tunnel/internal/wsconn"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml/json/toml); empty uses built-in defaults")
	addr := flag.String("connect", "", "proxy address to dial, overriding config's proxy_host")
	flag.Parse()

	log := logging.FromSlog(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "proxyhost: config load failed: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	host, err := relay.New(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "proxyhost: relay init failed: %v\n", err)
		os.Exit(1)
	}
	defer host.Close()

	conn, err := host.Dial(*addr, echoReceiver(log), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "proxyhost: dial failed: %v\n", err)
		os.Exit(1)
	}
	log.Info("proxyhost started", "connection", conn.ID.String())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("proxyhost stopping")
}

// echoReceiver logs every delivered message and requests the connection
// stay open, regardless of content; a real control-plane handler would
// decode via the host's codec and dispatch on message type instead.
func echoReceiver(log logging.SLogger) wsconn.ReceiverFunc {
	return func(ctx any, r *wsconn.Reader) pnerr.Kind {
		buf := make([]byte, 4096)
		n, _ := r.Read(buf)
		log.Debug("proxyhost received message", "bytes", n)
		return pnerr.KindOK
	}
}
