package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/zulfikawr/beam/internal/clock"
	"github.com/zulfikawr/beam/internal/config"
	"github.com/zulfikawr/beam/internal/discovery"
	"github.com/zulfikawr/beam/internal/logging"
	"github.com/zulfikawr/beam/internal/network"
	"github.com/zulfikawr/beam/internal/protocol"
	"github.com/zulfikawr/beam/internal/server"
	"github.com/zulfikawr/beam/internal/ui"
)

var version = "dev"

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "serve":
		serveCmd(os.Args[2:])
	case "search":
		searchCmd(os.Args[2:])
	case "version":
		fmt.Println("beam", version)
	case "-h", "--help":
		usage()
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	c := ui.Colors
	fmt.Println("██▄▄  ▄▄▄▄  ▄▄▄▄  ██▄▄▄▄▄")
	fmt.Println("██ ██ ██▄▄ ▀▄▄▄██ ██ ██ ██")
	fmt.Println("██▄█▀ ██▄▄ ▄█▄▄██ ██ ██ ██")
	fmt.Println(c.Dim + "ephemeral file and message exchange over a session code" + c.Reset)
	fmt.Println()

	fmt.Println(c.Bold + "Usage:" + c.Reset)
	fmt.Println("  " + c.Green + "beam serve" + c.Reset + " [flags]")
	fmt.Println("  " + c.Green + "beam search" + c.Reset + " [flags]")
	fmt.Println("  " + c.Green + "beam version" + c.Reset)
	fmt.Println()

	fmt.Println(c.Bold + "Commands:" + c.Reset)
	fmt.Println("  " + c.Magenta + "serve" + c.Reset + "   Run the exchange server")
	fmt.Println("\t" + c.Yellow + "--host" + c.Reset + "          bind address (default 0.0.0.0)")
	fmt.Println("\t" + c.Yellow + "-p, --port" + c.Reset + "      listen port (default 3000)")
	fmt.Println("\t" + c.Yellow + "-i, --interface" + c.Reset + " interface for the printed share URL")
	fmt.Println("\t" + c.Yellow + "--no-qr" + c.Reset + "         do not print the QR code")
	fmt.Println("\t" + c.Yellow + "--no-mdns" + c.Reset + "       do not advertise over mDNS")
	fmt.Println("\t" + c.Yellow + "-v, --verbose" + c.Reset + "   verbose logging")
	fmt.Println("  " + c.Magenta + "search" + c.Reset + "  Find beam servers on the local network")
	fmt.Println("\t" + c.Yellow + "--timeout" + c.Reset + "       discovery timeout (default 3s)")
}

func serveCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	host := fs.String("host", "", "bind address")
	port := fs.Int("port", 0, "listen port")
	fs.IntVar(port, "p", 0, "")
	iface := fs.String("interface", "", "network interface for the share URL")
	fs.StringVar(iface, "i", "", "")
	noQR := fs.Bool("no-qr", false, "disable QR output")
	noMDNS := fs.Bool("no-mdns", false, "disable mDNS advertisement")
	verbose := fs.Bool("verbose", false, "verbose logging")
	fs.BoolVar(verbose, "v", false, "")
	fs.Parse(args)

	if *verbose {
		logging.SetLevel(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	cfg.EnableMDNS = cfg.EnableMDNS && !*noMDNS
	cfg.NoQR = cfg.NoQR || *noQR
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	srv := server.New(cfg, clock.Real{})
	if err := srv.Start(); err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := srv.Shutdown(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	url := shareURL(cfg.Host, srv.Addr, *iface)
	c := ui.Colors
	fmt.Fprintf(os.Stderr, "Sessions expire after %s, files up to %s, %s total budget\n",
		ui.FormatDuration(cfg.SessionTTL()),
		ui.FormatBytes(cfg.MaxFileSizeBytes),
		ui.FormatBytes(cfg.MaxTotalBytes))

	if !cfg.NoQR {
		fmt.Fprintln(os.Stderr)
		_ = ui.PrintQR(url)
	}
	fmt.Fprintf(os.Stderr, "\nConnect from another device:\n%s%s%s\n", c.Bold, url, c.Reset)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
}

// shareURL builds the websocket URL peers should dial. A wildcard bind gets
// replaced with the LAN address so the printed URL actually works elsewhere,
// and the port comes from the bound address in case the OS picked it.
func shareURL(bindHost, boundAddr, iface string) string {
	host := bindHost
	if host == "" || host == "0.0.0.0" || host == "::" {
		if ip, err := network.DiscoverLANIP(iface); err == nil {
			host = ip.String()
		} else {
			host = "127.0.0.1"
		}
	}
	port := boundAddr
	if i := strings.LastIndex(boundAddr, ":"); i >= 0 {
		port = boundAddr[i+1:]
	}
	return fmt.Sprintf("ws://%s:%s%s", host, port, protocol.WebSocketPath)
}

func searchCmd(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	timeout := fs.Duration("timeout", 3*time.Second, "discovery timeout")
	fs.Parse(args)

	fmt.Println("Searching for beam servers on the local network...")
	fmt.Println()

	services, err := discovery.Browse(context.Background(), *timeout)
	if err != nil {
		log.Fatal(err)
	}
	if len(services) == 0 {
		fmt.Println("No beam servers found")
		return
	}

	fmt.Printf("Found %d server", len(services))
	if len(services) != 1 {
		fmt.Print("s")
	}
	fmt.Println(":")
	fmt.Println()

	for i, svc := range services {
		fmt.Printf("%d. %s\n", i+1, svc.Name)
		fmt.Printf("   Address: %s:%d\n", svc.IP, svc.Port)
		fmt.Printf("   URL: %s\n", svc.URL)
		if i < len(services)-1 {
			fmt.Println()
		}
	}
}
