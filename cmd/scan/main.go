package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"camrec/config"
	"camrec/streaming"
)

func main() {
	start := flag.String("start", "", "First address to scan (default: local /24)")
	end := flag.String("end", "", "Last address to scan (default: local /24)")
	port := flag.String("port", "554", "RTSP port")
	workers := flag.Int("workers", 50, "Concurrent TCP dials")
	probeTimeout := flag.Duration("probe-timeout", 5*time.Second, "Timeout for each RTSP probe")
	asConfig := flag.Bool("config", false, "Print a cameras block for config.json instead of the raw results")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *start == "" || *end == "" {
		s, e, err := config.LocalSubnet()
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		*start, *end = s, e
	}

	log.Printf("🔍 Scanning %s - %s for RTSP on port %s", *start, *end, *port)
	hosts, err := config.ScanCamerasInRange(ctx, *start, *end, *port, *workers)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	results := config.ProbeCameras(ctx, hosts, func(ctx context.Context, uri string) error {
		pctx, cancel := context.WithTimeout(ctx, *probeTimeout)
		defer cancel()
		src := streaming.NewRTSPSource(*probeTimeout)
		defer src.Close()
		if err := src.Connect(pctx, uri); err != nil {
			return err
		}
		_, err := src.ReadPacket(pctx)
		return err
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if !*asConfig {
		if err := enc.Encode(results); err != nil {
			log.Fatal(err)
		}
		return
	}

	cameras := []config.CameraConfig{}
	for _, r := range results {
		if r.RTSPURL != "" {
			cameras = append(cameras, r.Camera())
		}
	}
	if err := enc.Encode(map[string]interface{}{"cameras": cameras}); err != nil {
		log.Fatal(err)
	}
	fmt.Fprintf(os.Stderr, "🎥 %d of %d hosts answered RTSP\n", len(cameras), len(results))
}
