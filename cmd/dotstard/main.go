package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"

	"github.com/coreman2200/funtimes-dotstar/internal/app"
	"github.com/coreman2200/funtimes-dotstar/internal/board"
	"github.com/coreman2200/funtimes-dotstar/internal/command"
	"github.com/coreman2200/funtimes-dotstar/internal/config"
	"github.com/coreman2200/funtimes-dotstar/internal/monitor"
	"github.com/coreman2200/funtimes-dotstar/internal/relay"
	"github.com/coreman2200/funtimes-dotstar/internal/safemode"
	"github.com/coreman2200/funtimes-dotstar/internal/serial"
	"github.com/coreman2200/funtimes-dotstar/internal/strip"
)

func main() {
	// ---- Flags (override config.yaml when given) ----
	var (
		configPath = flag.String("config", "dotstard.yaml", "path to a .yaml or .toml config")
		device     = flag.String("serial", "", "serial device carrying commands")
		leds       = flag.Int("leds", 0, "number of LEDs on the strip")
		policy     = flag.String("policy", "", "payload length policy: verbatim | truncate | pad | reject")
		sim        = flag.Bool("sim", false, "draw frames at the console instead of SPI")
		monitorAt  = flag.String("monitor", "", "monitor listen address, e.g. :8080")
		logLevel   = flag.String("log-level", "", "trace | debug | info | warn | error")
	)
	flag.Parse()

	// ---- Logging ----
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	// ---- Config ----
	cfg, err := config.Load(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", *configPath).Msg("no config file; using defaults")
		cfg = config.Default()
	} else if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "serial":
			cfg.Serial.Device = *device
		case "leds":
			cfg.Strip.LEDCount = *leds
		case "policy":
			cfg.Strip.PayloadPolicy = *policy
		case "sim":
			cfg.Strip.Sim = *sim
		case "monitor":
			cfg.Monitor.Addr = *monitorAt
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level; keeping info")
	}

	// ---- Hardware ----
	bc := board.Config{
		RelayPin: cfg.Relay.Pin,
		SPIPort:  cfg.Strip.Port,
		SpeedHz:  cfg.Strip.SpeedHz,
		Sim:      cfg.Strip.Sim,
	}
	if cfg.SafeMode.EnablePinTrigger {
		bc.SensePin = cfg.SafeMode.Pin
	}
	b, err := board.Open(bc)
	if err != nil {
		log.Fatal().Err(err).Msg("board init")
	}

	fail := func(err error, msg string) {
		_ = b.Close()
		log.Fatal().Err(err).Msg(msg)
	}

	rel, err := relay.New(b.Relay, cfg.TurnOnDelay())
	if err != nil {
		fail(err, "relay init")
	}

	// ---- Recovery ----
	// A reset left its marker: keep the strip unpowered and wait to be
	// stopped instead of taking commands.
	if safemode.Pending(cfg.SafeMode.MarkerPath) {
		log.Warn().Str("marker", cfg.SafeMode.MarkerPath).
			Msg("safe mode marker present; relay held off, remove it and restart")
		if err := app.NewRunner(app.Idle{}).Start(context.Background()); err != nil {
			fail(err, "recovery wait")
		}
		if err := b.Close(); err != nil {
			log.Error().Err(err).Msg("board close")
		}
		return
	}

	pol, err := strip.ParsePolicy(cfg.Strip.PayloadPolicy)
	if err != nil {
		fail(err, "payload policy")
	}
	enc := strip.New(b.Bus, cfg.Strip.LEDCount, strip.WithPolicy(pol))

	var sense safemode.Pin
	if b.Sense != nil {
		sense = b.Sense
	}
	resetLevel := gpio.Low
	if cfg.SafeMode.ResetHigh {
		resetLevel = gpio.High
	}
	guard, err := safemode.New(sense, resetLevel, []byte(cfg.SafeMode.Command),
		&safemode.BootResetter{
			MarkerPath: cfg.SafeMode.MarkerPath,
			Command:    cfg.SafeMode.ResetCommand,
			PreReset: func() {
				if err := rel.TurnOff(); err != nil {
					log.Error().Err(err).Msg("dropping relay before reset")
				}
				if err := b.Close(); err != nil {
					log.Error().Err(err).Msg("board close")
				}
			},
		},
		safemode.EnablePin(cfg.SafeMode.EnablePinTrigger),
		safemode.EnableCommand(cfg.SafeMode.EnableCommandTrigger),
	)
	if err != nil {
		fail(err, "safe mode init")
	}

	port, err := serial.Open(&serial.Config{
		Device:      cfg.Serial.Device,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.ReadTimeout(),
	})
	if err != nil {
		fail(err, "serial init")
	}
	defer port.Close()

	opts := []command.Option{
		command.WithGuard(guard),
		command.WithMaxLength(cfg.Command.MaxLength),
	}
	if cfg.Monitor.Addr != "" {
		hub := monitor.NewHub(rel.On)
		srv := hub.Serve(cfg.Monitor.Addr)
		defer srv.Close()
		opts = append(opts, command.WithObserver(hub))
	}

	log.Info().
		Str("serial", port.String()).
		Str("strip", enc.String()).
		Bool("sim", b.Sim).
		Dur("turn_on_delay", rel.Delay()).
		Bool("safemode_pin", guard.PinEnabled()).
		Bool("safemode_command", guard.CommandEnabled()).
		Msg("dotstard ready")

	// ---- Control loop ----
	d := command.New(port, rel, enc, opts...)
	if err := app.NewRunner(d).Start(context.Background()); err != nil {
		fail(err, "control loop stopped")
	}
	if err := b.Close(); err != nil {
		log.Error().Err(err).Msg("board close")
	}
}
