// Command urg-monitor streams scans from a SCIP2.0 rangefinder and serves
// debug pages describing the link and the latest frame.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/scip2/internal/admin"
	"github.com/banshee-data/scip2/internal/config"
	"github.com/banshee-data/scip2/internal/monitoring"
	"github.com/banshee-data/scip2/internal/scan"
	"github.com/banshee-data/scip2/internal/session"
	"github.com/banshee-data/scip2/internal/transport"
	"github.com/banshee-data/scip2/internal/urgsim"
	"github.com/banshee-data/scip2/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON driver config")
	device      = flag.String("device", "", "Device target, overriding the config (serial path, tcp://host:port or pcap://file)")
	listen      = flag.String("listen", "", "Debug HTTP listen address, overriding the config")
	devMode     = flag.Bool("dev", false, "Run against a simulated sensor")
	listPorts   = flag.Bool("list-ports", false, "List serial ports and exit")
	showVersion = flag.Bool("version", false, "Print version and exit")
	debug       = flag.Bool("debug", false, "Trace protocol traffic")
)

const pollInterval = 10 * time.Millisecond

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("urg-monitor", version.String())
		return
	}
	if *listPorts {
		if err := printPorts(); err != nil {
			log.Fatalf("failed to list ports: %v", err)
		}
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *device != "" {
		cfg.Target = device
	}
	if *listen != "" {
		cfg.Listen = listen
	}
	monitoring.SetDebug(*debug || cfg.GetDebug())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *devMode); err != nil {
		log.Fatalf("urg-monitor: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func loadConfig(path string) (*config.DriverConfig, error) {
	if path == "" {
		return &config.DriverConfig{}, nil
	}
	return config.LoadDriverConfig(path)
}

func printPorts() error {
	ports, err := transport.Discover()
	if err != nil {
		return err
	}
	for _, p := range ports {
		marker := " "
		if p.IsURG {
			marker = "*"
		}
		fmt.Printf("%s %-20s %-30s %s\n", marker, p.Name, p.Product, p.SerialNumber)
	}
	return nil
}

func openSession(ctx context.Context, cfg *config.DriverConfig, devMode bool, tap *admin.LineTap) (*session.Session, error) {
	opts := session.Options{
		Bitrate:        cfg.GetBitrate(),
		ReadTimeout:    cfg.GetReadTimeout(),
		VerifyChecksum: cfg.GetVerifyChecksum(),
		ReplayPort:     cfg.GetReplayPort(),
		OnLine:         tap.Publish,
	}
	if devMode {
		dev := urgsim.New(urgsim.Config{})
		port := transport.NewPort(dev, "urgsim", transport.Options{})
		return session.Attach(port, opts)
	}
	return session.Open(ctx, cfg.GetTarget(), opts)
}

func acquisition(cfg *config.DriverConfig) session.Acquisition {
	return session.Acquisition{
		Start:    cfg.GetStartStep(),
		End:      cfg.GetEndStep(),
		Group:    cfg.GetGroup(),
		Cull:     cfg.GetCull(),
		Count:    cfg.GetScanCount(),
		Encoding: cfg.GetEncoding(),
	}
}

// run brings the sensor up, streams until ctx is done or the pipeline
// fails, and shuts everything down.
func run(ctx context.Context, cfg *config.DriverConfig, devMode bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	tap := admin.NewLineTap()
	defer tap.Close()

	sess, err := openSession(ctx, cfg, devMode, tap)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.GetTarget(), err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Printf("close session: %v", err)
		}
	}()

	if v, err := sess.Version(); err != nil {
		log.Printf("version query failed: %v", err)
	} else {
		log.Printf("sensor %s serial %s firmware %s", v.Product, v.Serial, v.Firmware)
	}
	params, err := sess.Parameters()
	if err != nil {
		log.Printf("parameter query failed: %v", err)
	}
	if d := cfg.GetDeboost(); d >= 0 {
		if err := sess.SetDeboost(d); err != nil {
			log.Printf("deboost %d: %v", d, err)
		}
	}
	if err := sess.LaserOn(); err != nil {
		return fmt.Errorf("laser on: %w", err)
	}
	if start, err := sess.GetStartTime(); err != nil {
		log.Printf("clock sync failed, frames will carry device time only: %v", err)
	} else {
		log.Printf("sensor clock started at %s", start.Format(time.RFC3339Nano))
	}

	a := acquisition(cfg)
	startStream, stopStream := sess.StartMS, sess.StopMS
	if cfg.GetMode() == config.ModeND {
		startStream, stopStream = sess.StartND, sess.StopND
	}
	if err := startStream(ctx, a); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	defer func() {
		if err := stopStream(); err != nil {
			log.Printf("stop stream: %v", err)
		}
	}()

	frames := &admin.FrameStore{}
	mux := http.NewServeMux()
	routes := admin.NewRoutes(sess, frames, params)
	routes.SetTap(tap)
	routes.AttachAdminRoutes(mux)

	ln, err := net.Listen("tcp", cfg.GetListen())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Printf("debug pages on http://%s/debug/", ln.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consume(ctx, sess, frames)
	})
	g.Go(func() error {
		return serve(ctx, ln, mux)
	})
	return g.Wait()
}

// consume hands every new frame to frames until ctx is done. A failed
// pipeline ends the run.
func consume(ctx context.Context, sess *session.Session, frames *admin.FrameStore) error {
	p := sess.Pipeline()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var n uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		s, err := p.Begin()
		if errors.Is(err, scan.ErrBusy) {
			continue
		}
		if err != nil {
			return fmt.Errorf("pipeline: %w (%v)", err, p.Err())
		}
		frames.Update(s, sess.HostTime(s.Timestamp))
		p.End()

		n++
		if n%100 == 0 {
			log.Printf("received %d frames", n)
		}
	}
}

func serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	server := &http.Server{Handler: handler}
	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(ln)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	return nil
}
