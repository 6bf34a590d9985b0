// Command vagdiagd exposes a locally-attached pass-through adapter over
// HTTP/JSON so a remoteadapter.Client on another host can drive it
// (SPEC_FULL §1 "a small Linux box wired to the vehicle's OBD port").
// Grounded on
// _examples/guiperry-HASHER/cmd/driver/hasher-host/main.go's runAPIServer:
// gin.New + gin.Recovery, an http.Server started in a goroutine, and a
// signal-channel-gated graceful Shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/gousb"

	"github.com/volvotools/vagdiag/internal/adapter/remoteadapter"
	"github.com/volvotools/vagdiag/internal/adapter/usbtransport"
)

func main() {
	port := flag.Int("port", 8411, "HTTP port to listen on")
	vidHex := flag.String("vid", "", "USB vendor id of the attached pass-through interface, hex")
	pidHex := flag.String("pid", "", "USB product id of the attached pass-through interface, hex")
	flag.Parse()

	if *vidHex == "" || *pidHex == "" {
		log.Fatal("vagdiagd: --vid and --pid are required")
	}
	vid, err := strconv.ParseUint(*vidHex, 16, 16)
	if err != nil {
		log.Fatalf("vagdiagd: --vid must be hex: %v", err)
	}
	pid, err := strconv.ParseUint(*pidHex, 16, 16)
	if err != nil {
		log.Fatalf("vagdiagd: --pid must be hex: %v", err)
	}

	dev, err := usbtransport.Open(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		log.Fatalf("vagdiagd: open usb device: %v", err)
	}
	defer dev.Close()

	server := remoteadapter.NewServer(dev)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: server.Router(),
	}

	go func() {
		log.Printf("vagdiagd: listening on :%d", *port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("vagdiagd: serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("vagdiagd: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("vagdiagd: shutdown: %v", err)
	}
}
