// Package main streams a synthetic motor firing to a test-stand server,
// standing in for the hardware bridge during development and demos. It
// answers tare and calibrate commands the way the real bridge does.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"static-fire-lab/internal/daq"
	"static-fire-lab/internal/domain"
	"static-fire-lab/internal/simulator"
)

// repeatGapMS separates firings when looping, keeping the simulated
// device clock monotonic across runs.
const repeatGapMS = 2000

func main() {
	endpoint := flag.String("server", getEnv("SERVER_URL", "ws://localhost:8080/ws/device"), "Device WebSocket endpoint")
	peak := flag.Float64("peak", 100, "Peak thrust in newtons")
	burn := flag.Float64("burn", 2.0, "Burn time in seconds")
	profile := flag.String("profile", "neutral", "Thrust profile: regressive, neutral, progressive")
	rate := flag.Float64("rate", 80, "Sample rate in Hz")
	cato := flag.Bool("cato", false, "Simulate a catastrophic failure instead of a nominal burn")
	fast := flag.Bool("fast", false, "Stream without real-time pacing")
	repeat := flag.Bool("repeat", false, "Loop firings until interrupted")
	seed := flag.Int64("seed", 0, "Rand seed; 0 seeds from the clock")

	flag.Parse()

	logger := log.New(os.Stdout, "[simulate] ", log.LstdFlags)

	cfg := simulator.Config{
		PeakThrust: *peak,
		BurnTime:   *burn,
		Profile:    simulator.Profile(*profile),
		SampleRate: *rate,
		NoiseFrac:  0.02,
		Seed:       *seed,
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	switch cfg.Profile {
	case simulator.ProfileRegressive, simulator.ProfileNeutral, simulator.ProfileProgressive:
	default:
		logger.Fatalf("Unknown profile %q", *profile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clientCfg := daq.DefaultStreamConfig()
	clientCfg.Logger = logger
	client, err := daq.NewStreamClient(ctx, *endpoint, &clientCfg)
	if err != nil {
		logger.Fatalf("Connect to %s: %v", *endpoint, err)
	}
	defer client.Close()
	logger.Printf("Connected to %s", *endpoint)

	go answerCommands(ctx, client, logger)

	if err := client.SendStatus(map[string]any{
		"simulated":   true,
		"sample_rate": *rate,
	}); err != nil {
		logger.Printf("Send status: %v", err)
	}

	motor := simulator.New(cfg)
	interval := time.Duration(float64(time.Second) / cfg.SampleRate)

	var baseMS int64
	for run := 1; ; run++ {
		curve := motor.ThrustCurve()
		if *cato {
			curve = motor.CatoCurve()
		}
		if len(curve) == 0 {
			logger.Fatal("Burn too short to produce samples")
		}

		logger.Printf("Run %d: streaming %d samples (%s, %.0f N peak)",
			run, len(curve), cfg.Profile, cfg.PeakThrust)
		if err := stream(ctx, client, curve, baseMS, interval, *fast); err != nil {
			logger.Printf("Stream aborted: %v", err)
			return
		}

		if !*repeat {
			logger.Println("Firing complete")
			return
		}
		baseMS += curve[len(curve)-1].DeviceTimestamp + repeatGapMS

		select {
		case <-ctx.Done():
			return
		case <-time.After(repeatGapMS * time.Millisecond):
		}
	}
}

// stream sends the curve sample by sample. Pacing tracks the ideal send
// time for each sample so sleep drift does not accumulate.
func stream(ctx context.Context, client *daq.StreamClient, curve domain.TelemetrySeries, baseMS int64, interval time.Duration, fast bool) error {
	next := time.Now()
	for _, r := range curve {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.DeviceTimestamp += baseMS
		if err := client.SendReading(r); err != nil {
			return fmt.Errorf("send reading: %w", err)
		}

		if fast {
			continue
		}
		next = next.Add(interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}
	}
	return nil
}

// answerCommands acks stand commands the way the hardware bridge would.
// Tare and calibrate get replies; recording control is the server's
// business and is only logged.
func answerCommands(ctx context.Context, client *daq.StreamClient, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-client.Commands():
			if !ok {
				return
			}
			switch cmd.Name {
			case domain.CommandTare:
				if err := client.SendAck(cmd.Name); err != nil {
					logger.Printf("Ack tare: %v", err)
				}
			case domain.CommandCalibrate:
				if err := client.SendAck(cmd.Name); err != nil {
					logger.Printf("Ack calibrate: %v", err)
				}
				cal := simulatedCalibration(cmd.KnownMassKG)
				if err := client.SendCalibration(cal); err != nil {
					logger.Printf("Send calibration: %v", err)
				}
			default:
				logger.Printf("Command %q acknowledged implicitly", cmd.Name)
			}
		}
	}
}

// simulatedCalibration reports the linear fit the synthetic ADC codes
// actually follow: mid-scale idle, one millinewton per code.
func simulatedCalibration(knownMassKG float64) domain.Calibration {
	const offset = 8388608
	const scale = 0.001

	cal := domain.Calibration{
		Offset:    offset,
		Scale:     scale,
		UpdatedAt: time.Now().UTC(),
	}
	if knownMassKG > 0 {
		cal.Points = []domain.CalibrationPoint{
			{RawCode: offset + int64(knownMassKG*9.81/scale), MassKG: knownMassKG},
		}
	}
	return cal
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
