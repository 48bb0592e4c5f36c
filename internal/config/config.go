// Package config loads the daemon configuration from ALARM_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Transport backends.
const (
	TransportMMCLI  = "mmcli"
	TransportDBus   = "dbus"
	TransportSerial = "serial"
)

// Telemetry backends.
const (
	TelemetryI2CGet = "i2cget"
	TelemetryPeriph = "periph"
)

// Mail holds the SMTP relay settings.
type Mail struct {
	Sender   string
	Address  string
	Password string
	Host     string
	Port     int
}

// Config is the static daemon configuration.
type Config struct {
	Name          string
	TrustedPhone  string
	SleepTime     time.Duration
	VideoDevice   string
	LogPath       string
	Debug         bool
	AlarmService  string
	MotionService string

	EnableStop      bool
	EnablePoweroff  bool
	VideoMaxSeconds int

	Mail Mail

	Transport   string
	SerialPorts []string
	SerialBaud  int

	Telemetry string
	I2CBus    string
	UPSAddr   uint16

	StatusAddr string
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads the configuration through lookup. Every problem found is
// reported in the returned error.
func LoadFrom(lookup func(string) (string, bool)) (*Config, error) {
	var errs []error

	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}
	required := func(key string) string {
		v := get(key, "")
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
		return v
	}
	boolean := func(key string) bool {
		v := get(key, "")
		if v == "" {
			return false
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		}
		return b
	}
	integer := func(key string, def int) int {
		v := get(key, "")
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
			return def
		}
		return n
	}

	cfg := &Config{
		Name:          get("ALARM_NAME", "RPI4 Alarm"),
		TrustedPhone:  required("ALARM_TRUSTED_PHONE"),
		VideoDevice:   required("ALARM_VIDEO_DEVICE"),
		LogPath:       required("ALARM_LOG_PATH"),
		Debug:         boolean("ALARM_DEBUG"),
		AlarmService:  get("ALARM_SERVICE", "rpi4-alarm"),
		MotionService: get("ALARM_MOTION_SERVICE", "motion"),

		EnableStop:      boolean("ALARM_ENABLE_STOP"),
		EnablePoweroff:  boolean("ALARM_ENABLE_POWEROFF"),
		VideoMaxSeconds: integer("ALARM_VIDEO_MAX_SECONDS", 0),

		Mail: Mail{
			Sender:   required("ALARM_EMAIL_SENDER"),
			Address:  required("ALARM_EMAIL_ADDRESS"),
			Password: required("ALARM_EMAIL_PASSWORD"),
			Host:     get("ALARM_SMTP_HOST", "smtp.gmail.com"),
			Port:     integer("ALARM_SMTP_PORT", 465),
		},

		Transport:   strings.ToLower(get("ALARM_TRANSPORT", TransportMMCLI)),
		SerialPorts: splitList(get("ALARM_SERIAL_PORTS", "/dev/ttyUSB*,/dev/ttyACM*")),
		SerialBaud:  integer("ALARM_SERIAL_BAUD", 115200),

		Telemetry: strings.ToLower(get("ALARM_TELEMETRY", TelemetryI2CGet)),
		I2CBus:    get("ALARM_I2C_BUS", "1"),

		StatusAddr: get("ALARM_STATUS_ADDR", ""),
	}

	if v := required("ALARM_SLEEP_TIME"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || secs <= 0 {
			errs = append(errs, fmt.Errorf("ALARM_SLEEP_TIME: invalid interval %q", v))
		} else {
			cfg.SleepTime = time.Duration(secs * float64(time.Second))
		}
	}

	addr := get("ALARM_UPS_ADDR", "0x17")
	if a, err := strconv.ParseUint(addr, 0, 7); err != nil {
		errs = append(errs, fmt.Errorf("ALARM_UPS_ADDR: invalid I2C address %q", addr))
	} else {
		cfg.UPSAddr = uint16(a)
	}

	switch cfg.Transport {
	case TransportMMCLI, TransportDBus, TransportSerial:
	default:
		errs = append(errs, fmt.Errorf("ALARM_TRANSPORT: unknown transport %q", cfg.Transport))
	}
	switch cfg.Telemetry {
	case TelemetryI2CGet, TelemetryPeriph:
	default:
		errs = append(errs, fmt.Errorf("ALARM_TELEMETRY: unknown telemetry %q", cfg.Telemetry))
	}
	if cfg.VideoMaxSeconds < 0 {
		errs = append(errs, fmt.Errorf("ALARM_VIDEO_MAX_SECONDS must not be negative"))
	}
	if cfg.LogPath != "" {
		cfg.LogPath = filepath.Clean(cfg.LogPath)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
