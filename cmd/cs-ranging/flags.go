package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/cs-ranging/internal/config"
	"github.com/banshee-data/cs-ranging/internal/units"
	"github.com/spf13/pflag"
)

// options holds the parsed command line.
type options struct {
	initiator    string
	reflector    string
	uart         bool
	logUART      bool
	configPath   string
	dbPath       string
	listen       string
	mqttBroker   string
	mqttTopic    string
	plotDir      string
	unit         string
	queueCap     int
	maxPending   int
	baud         int
	exitWhenDone bool
	showVersion  bool

	flags *pflag.FlagSet
}

func newFlagSet(o *options, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("cs-ranging", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: cs-ranging -i INITIATOR -r REFLECTOR [flags]\n")
		fmt.Fprintf(out, "       cs-ranging migrate [--db PATH] <action>\n\n")
		fmt.Fprintf(out, "INITIATOR and REFLECTOR are log files, or serial devices with --uart.\n\n")
		fs.PrintDefaults()
	}

	fs.StringVarP(&o.initiator, "initiator", "i", "", "Initiator log file or serial device")
	fs.StringVarP(&o.reflector, "reflector", "r", "", "Reflector log file or serial device")
	fs.BoolVar(&o.uart, "uart", false, "Read both sides from serial devices")
	fs.BoolVar(&o.logUART, "log-uart", false, "Save raw UART output under the raw log directory (requires --uart)")
	fs.StringVar(&o.configPath, "config", "", "Configuration file (.json, .yaml)")
	fs.StringVar(&o.dbPath, "db", "", "SQLite database for runs and results")
	fs.StringVar(&o.listen, "listen", config.DefaultListen, "Viewer listen address (empty disables)")
	fs.StringVar(&o.mqttBroker, "mqtt", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	fs.StringVar(&o.mqttTopic, "mqtt-topic", config.DefaultMQTTTopic, "MQTT topic prefix")
	fs.StringVar(&o.plotDir, "plot-dir", "", "Write one PNG per pair into this directory")
	fs.StringVar(&o.unit, "unit", config.DefaultDistanceUnit, "Distance unit ("+units.GetValidUnitsString()+")")
	fs.IntVar(&o.queueCap, "queue-capacity", config.DefaultQueueCapacity, "Per-side queue capacity")
	fs.IntVar(&o.maxPending, "max-pending", config.DefaultMaxPending, "Per-side unmatched buffer limit (0 = unbounded)")
	fs.IntVar(&o.baud, "baud", 115200, "UART baud rate")
	fs.BoolVar(&o.exitWhenDone, "exit-when-done", false, "Exit after the run instead of keeping the viewer up")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	return fs
}

// parseFlags parses args and checks flag combinations.
func parseFlags(args []string, out io.Writer) (*options, error) {
	o := &options{}
	fs := newFlagSet(o, out)
	o.flags = fs
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.showVersion {
		return o, nil
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	var errs []error
	if o.initiator == "" {
		errs = append(errs, errors.New("--initiator is required"))
	}
	if o.reflector == "" {
		errs = append(errs, errors.New("--reflector is required"))
	}
	if o.logUART && !o.uart {
		errs = append(errs, errors.New("--log-uart is only valid with --uart"))
	}
	if fs.Changed("unit") && !units.IsValid(o.unit) {
		errs = append(errs, fmt.Errorf("invalid --unit %q, must be one of: %s", o.unit, units.GetValidUnitsString()))
	}
	return o, errors.Join(errs...)
}

// loadConfig reads the config file, if any, and applies explicitly set flags
// on top of it.
func loadConfig(o *options) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	changed := o.flags.Changed
	if changed("db") {
		cfg.Storage.DBPath = &o.dbPath
	}
	if changed("listen") {
		cfg.HTTP.Listen = &o.listen
	}
	if changed("mqtt") {
		cfg.MQTT.Broker = &o.mqttBroker
	}
	if changed("mqtt-topic") {
		cfg.MQTT.Topic = &o.mqttTopic
	}
	if changed("plot-dir") {
		cfg.Plot.Dir = &o.plotDir
	}
	if changed("unit") {
		cfg.Ranging.DistanceUnit = &o.unit
	}
	if changed("queue-capacity") {
		cfg.Pipeline.QueueCapacity = &o.queueCap
	}
	if changed("max-pending") {
		cfg.Pipeline.MaxPending = &o.maxPending
	}
	if changed("baud") {
		cfg.Serial.BaudRate = &o.baud
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
