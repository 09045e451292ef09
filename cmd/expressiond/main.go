// Command expressiond receives face tracking packets, records calibration
// samples on request, trains the expression classifier and serves the
// current expression over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/expression.report/internal/api"
	"github.com/banshee-data/expression.report/internal/config"
	"github.com/banshee-data/expression.report/internal/db"
	"github.com/banshee-data/expression.report/internal/expression"
	"github.com/banshee-data/expression.report/internal/expression/classifier"
	"github.com/banshee-data/expression.report/internal/expression/statefile"
	"github.com/banshee-data/expression.report/internal/fsutil"
	"github.com/banshee-data/expression.report/internal/host"
	"github.com/banshee-data/expression.report/internal/timeutil"
	"github.com/banshee-data/expression.report/internal/tracking"
	"github.com/banshee-data/expression.report/internal/tracking/network"
	"github.com/banshee-data/expression.report/internal/version"
)

var (
	configPath   = flag.String("config", "", "Path to a tuning config JSON file (defaults apply when empty)")
	listen       = flag.String("listen", ":8080", "HTTP listen address")
	udpAddr      = flag.String("udp", "", "UDP address for tracker packets (overrides udp_listen)")
	pcapFile     = flag.String("pcap", "", "Replay tracker packets from a pcap file instead of listening on UDP")
	pcapPort     = flag.Int("pcap-port", 11573, "UDP destination port to keep when replaying a pcap (0 keeps all)")
	pcapRealtime = flag.Bool("pcap-realtime", true, "Pace pcap replay at capture speed")
	dbPath       = flag.String("db", "expression.db", "SQLite database for snapshots and training runs (empty disables)")
	statePath    = flag.String("state", "", "State file (.expr) loaded at startup and written by save")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	seed, ok := cfg.GetSeed()
	if !ok {
		seed = uint64(time.Now().UnixNano())
	}
	eng := expression.New(expression.Options{
		Settings: expression.Settings{
			TargetFaceID:         cfg.GetTargetFaceID(),
			ExpressionStabilizer: cfg.GetExpressionStabilizer(),
			RecordingSkip:        cfg.GetRecordingSkip(),
			OverRecordingSkip:    cfg.GetOverRecordingSkip(),
			OverRecording:        cfg.GetOverRecording(),
			Selection:            cfg.GetFeatureSelection(),
		},
		Seed:     seed,
		NewModel: classifier.SoftmaxFactory(classifier.Options{
			L2:            cfg.GetModelL2(),
			MaxIterations: cfg.GetModelMaxIterations(),
		}),
	})

	fsys := fsutil.OSFileSystem{}
	if *statePath != "" {
		err := statefile.Load(fsys, *statePath, eng)
		switch {
		case err == nil:
			log.Printf("loaded state from %s", *statePath)
		case errors.Is(err, statefile.ErrNotFound):
			log.Printf("no state file at %s, starting empty", *statePath)
		default:
			log.Fatalf("Failed to load state: %v", err)
		}
	}

	var database *db.DB
	if *dbPath != "" {
		var err error
		database, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer database.Close()
	}

	buf := tracking.NewBuffer()
	stats := network.NewPacketStats()

	runner, err := host.NewRunner(host.Config{
		Engine:          eng,
		Source:          buf,
		Clock:           timeutil.RealClock{},
		TickInterval:    cfg.GetTickInterval(),
		DB:              database,
		FS:              fsys,
		StatePath:       *statePath,
		SnapshotOnTrain: cfg.GetSnapshotOnTrain(),
	})
	if err != nil {
		log.Fatalf("Failed to create host: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracking input goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if *pcapFile != "" {
			f, err := os.Open(*pcapFile)
			if err != nil {
				log.Printf("failed to open pcap: %v", err)
				return
			}
			defer f.Close()
			err = network.ReplayPCAP(ctx, f, network.ReplayConfig{
				UDPPort:  *pcapPort,
				Realtime: *pcapRealtime,
				Stats:    stats,
				Sink:     buf,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("pcap replay failed: %v", err)
			}
			return
		}

		addr := cfg.GetUDPListen()
		if *udpAddr != "" {
			addr = *udpAddr
		}
		l := network.NewUDPListener(network.UDPListenerConfig{
			Address: addr,
			RcvBuf:  cfg.GetUDPRcvBuf(),
			Stats:   stats,
			Sink:    buf,
		})
		if err := l.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("UDP listener failed: %v", err)
		}
		log.Print("tracking input routine terminated")
	}()

	// Engine goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("engine runner failed: %v", err)
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(runner, database, stats).ServeMux()
		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Printf("HTTP server listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
