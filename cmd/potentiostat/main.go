// Command potentiostat runs one electrochemical technique against a
// connected instrument (or an in-process simulated cell in dev mode),
// archives the finalized session, and optionally renders an HTML report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/potentiostat/internal/config"
	"github.com/banshee-data/potentiostat/internal/db"
	"github.com/banshee-data/potentiostat/internal/experiment"
	"github.com/banshee-data/potentiostat/internal/firmware"
	"github.com/banshee-data/potentiostat/internal/monitoring"
	"github.com/banshee-data/potentiostat/internal/protocol"
	"github.com/banshee-data/potentiostat/internal/report"
	"github.com/banshee-data/potentiostat/internal/serialmux"
	"github.com/banshee-data/potentiostat/internal/units"
	"github.com/banshee-data/potentiostat/internal/version"
	"github.com/banshee-data/potentiostat/internal/voltammetry"
)

var (
	devMode   = flag.Bool("dev", false, "Run against an in-process simulated cell instead of hardware")
	portPath  = flag.String("port", "/dev/ttyUSB0", "Serial port the instrument is attached to")
	listPorts = flag.Bool("list-ports", false, "List visible serial ports and exit")

	dbFile     = flag.String("db", "potentiostat.db", "Path to the session archive database")
	calFile    = flag.String("calibration", "", "Path to the instrument calibration JSON file")
	reportFile = flag.String("report", "", "Write an HTML report of the session to this path")

	calibrateFlag = flag.Bool("calibrate", false, "Measure the zero-input offset current and exit")

	techniqueID = flag.String("technique", experiment.CyclicVoltammetryID, "Technique identifier")
	startVolts  = flag.Float64("start", -0.5, "Start vertex potential (V)")
	endVolts    = flag.Float64("end", 0.5, "End vertex potential (V)")
	scanRate    = flag.Float64("rate", 0.1, "Scan rate (V/s)")
	cycles      = flag.Int("cycles", 1, "Number of full triangular cycles")
	mode        = flag.Int("mode", 0, "Current range: 0 = low gain (µA), 1 = high gain (nA)")
	unitsFlag   = flag.String("units", units.MicroAmps, "Display units for currents ("+units.GetValidUnitsString()+")")

	simSeed     = flag.Int64("sim-seed", 1, "Random seed for the simulated cell (dev mode)")
	verbose     = flag.Bool("verbose", false, "Log every line received on the instrument link")
	showVersion = flag.Bool("version", false, "Print build information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	monitoring.SetVerbose(*verbose)

	if flag.Arg(0) == "migrate" {
		db.RunMigrateCommand(flag.Args()[1:], *dbFile)
		return
	}

	if !units.IsValid(*unitsFlag) {
		log.Fatalf("invalid units %q: expected one of %s", *unitsFlag, units.GetValidUnitsString())
	}

	if *listPorts {
		ports, err := serialmux.Ports()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cal := config.Empty()
	if *calFile != "" {
		var err error
		cal, err = config.Load(*calFile)
		if err != nil {
			log.Fatalf("failed to load calibration: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	var m serialmux.Interface
	if *devMode {
		hostEnd, deviceEnd := firmware.NewLoopback()
		cell := firmware.NewSimCell(*simSeed)
		controller := firmware.New(deviceEnd, cell, cell, firmware.Config{
			HardwareLimitVolts: cal.GetHardwareLimitVolts(),
			SettlingDelay:      time.Duration(cal.GetSettlingMillis()) * time.Millisecond,
			InitialSkipCount:   cal.GetInitialSkipCount(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := controller.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("simulated device terminated: %v", err)
			}
		}()
		m = serialmux.New[serialmux.SerialPorter](hostEnd)
	} else {
		mux, err := serialmux.Open(*portPath, serialmux.PortOptions{})
		if err != nil {
			log.Fatalf("failed to open serial port: %v", err)
		}
		m = mux
	}
	defer m.Close()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	if err := m.Handshake(ctx); err != nil {
		log.Fatalf("instrument not responding: %v", err)
	}
	log.Printf("instrument connected")

	if *calibrateFlag {
		if err := runCalibration(ctx, m, cal); err != nil {
			log.Fatalf("calibration failed: %v", err)
		}
		stop()
		m.Close()
		wg.Wait()
		return
	}

	store, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open session archive: %v", err)
	}
	defer store.Close()

	params := voltammetry.Params{
		StartVolts: *startVolts,
		EndVolts:   *endVolts,
		ScanRate:   *scanRate,
		Cycles:     *cycles,
		Mode:       voltammetry.Mode(*mode),
	}

	engine := experiment.NewEngine(experiment.NewRegistry(), cal)
	engine.Watch(func(t experiment.Transition) {
		if t.Cause != "" {
			log.Printf("session %s → %s (%s)", t.From, t.To, t.Cause)
		} else {
			log.Printf("session %s → %s", t.From, t.To)
		}
	})

	// Forward the interrupt to the engine so the device gets a STOP and the
	// session lands in a clean terminal state before shutdown.
	go func() {
		<-ctx.Done()
		engine.Abort()
	}()

	var progress int
	sink := voltammetry.SinkFunc(func(r voltammetry.Reading) {
		progress++
		if progress%100 == 0 {
			log.Printf("acquired %d samples (t=%.1fs, %.4f V, %.4f µA)",
				progress, r.ElapsedSeconds, r.AppliedVolts, r.CurrentUA)
		}
	})

	session, runErr := engine.Run(ctx, *techniqueID, params, m, sink)
	if session != nil {
		if err := store.ArchiveSession(session); err != nil {
			log.Printf("failed to archive session: %v", err)
		} else {
			log.Printf("archived session %s (%d samples, status=%s)", session.ID, session.Len(), session.Status)
		}
		if *reportFile != "" && session.Len() > 0 {
			if err := report.RenderFile(*reportFile, session, cal.GetSmoothingWindow()); err != nil {
				log.Printf("failed to render report: %v", err)
			} else {
				log.Printf("report written to %s", *reportFile)
			}
		}
		printSummary(session, *unitsFlag)
	}

	stop()
	m.Close()
	wg.Wait()

	if runErr != nil {
		log.Fatalf("run failed: %v", runErr)
	}
	log.Printf("graceful shutdown complete")
}

// runCalibration drives the zero-offset measurement: the device holds the
// cell at neutral and streams a burst of idle samples, which are averaged
// into the offset constant.
func runCalibration(ctx context.Context, m serialmux.Interface, cal *config.Calibration) error {
	id, lines := m.Subscribe()
	defer m.Unsubscribe(id)

	if err := m.SendCommand(protocol.CmdCalibrate); err != nil {
		return fmt.Errorf("failed to send calibrate command: %w", err)
	}

	var raws []int
	deadline := time.After(30 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("timed out waiting for calibration burst")
		case line, ok := <-lines:
			if !ok {
				return fmt.Errorf("link closed during calibration")
			}
			msg := protocol.Parse(line)
			switch msg.Kind {
			case protocol.KindData:
				raws = append(raws, msg.Raw)
			case protocol.KindAck:
				if msg.Line != protocol.LineCalComplete {
					continue
				}
				offset := voltammetry.OffsetFromIdleSamples(raws, voltammetry.ModeLow, cal)
				cal.SetOffsetCurrentUA(offset)
				log.Printf("measured offset %.4f µA over %d samples", offset, len(raws))
				if *calFile != "" {
					if err := cal.Save(*calFile); err != nil {
						return err
					}
					log.Printf("calibration saved to %s", *calFile)
				}
				return nil
			case protocol.KindDeviceError:
				return fmt.Errorf("device fault during calibration: %s", msg.Reason)
			}
		}
	}
}

func printSummary(s *experiment.Session, unit string) {
	fmt.Fprintf(os.Stdout, "session:        %s\n", s.ID)
	fmt.Fprintf(os.Stdout, "technique:      %s\n", s.Technique)
	fmt.Fprintf(os.Stdout, "status:         %s\n", s.Status)
	fmt.Fprintf(os.Stdout, "samples:        %d (skipped %d, warnings %d)\n", s.Len(), s.Skipped, s.Warnings)
	if s.Len() == 0 {
		return
	}
	label := units.Label(unit)
	fmt.Fprintf(os.Stdout, "duration:       %.2f s\n", s.Summary.DurationSec)
	fmt.Fprintf(os.Stdout, "mean current:   %.4f %s\n", units.ConvertCurrent(s.Summary.MeanCurrentUA, unit), label)
	fmt.Fprintf(os.Stdout, "peak anodic:    %.4f %s\n", units.ConvertCurrent(s.Summary.PeakAnodicUA, unit), label)
	fmt.Fprintf(os.Stdout, "peak cathodic:  %.4f %s\n", units.ConvertCurrent(s.Summary.PeakCathodicUA, unit), label)
	fmt.Fprintf(os.Stdout, "charge:         %.4f µC\n", s.Summary.ChargeUC)
}
