package config

import (
	"strings"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"ALARM_TRUSTED_PHONE":  "+390000000000",
		"ALARM_EMAIL_SENDER":   "motion@example.org",
		"ALARM_EMAIL_ADDRESS":  "owner@example.org",
		"ALARM_EMAIL_PASSWORD": "secret",
		"ALARM_SLEEP_TIME":     "3",
		"ALARM_VIDEO_DEVICE":   "/dev/video0",
		"ALARM_LOG_PATH":       "/home/alarm/log/",
	}
}

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(lookupFrom(baseEnv()))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.SleepTime != 3*time.Second {
		t.Errorf("SleepTime = %v", cfg.SleepTime)
	}
	if cfg.LogPath != "/home/alarm/log" {
		t.Errorf("LogPath = %q", cfg.LogPath)
	}
	if cfg.Name != "RPI4 Alarm" || cfg.AlarmService != "rpi4-alarm" || cfg.MotionService != "motion" {
		t.Errorf("unexpected names: %+v", cfg)
	}
	if cfg.Transport != TransportMMCLI || cfg.Telemetry != TelemetryI2CGet {
		t.Errorf("backends = %s/%s", cfg.Transport, cfg.Telemetry)
	}
	if cfg.UPSAddr != 0x17 {
		t.Errorf("UPSAddr = %#x", cfg.UPSAddr)
	}
	if cfg.Mail.Host != "smtp.gmail.com" || cfg.Mail.Port != 465 {
		t.Errorf("Mail = %+v", cfg.Mail)
	}
	if len(cfg.SerialPorts) != 2 {
		t.Errorf("SerialPorts = %v", cfg.SerialPorts)
	}
	if cfg.EnableStop || cfg.EnablePoweroff || cfg.Debug {
		t.Errorf("toggles should default to false: %+v", cfg)
	}
	if cfg.StatusAddr != "" {
		t.Errorf("status listener enabled by default on %q", cfg.StatusAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["ALARM_DEBUG"] = "true"
	env["ALARM_ENABLE_STOP"] = "1"
	env["ALARM_TRANSPORT"] = "DBUS"
	env["ALARM_TELEMETRY"] = "periph"
	env["ALARM_UPS_ADDR"] = "0x36"
	env["ALARM_SLEEP_TIME"] = "0.5"
	env["ALARM_SERIAL_PORTS"] = "/dev/ttyAMA0, ,/dev/serial0"

	cfg, err := LoadFrom(lookupFrom(env))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if !cfg.Debug || !cfg.EnableStop {
		t.Errorf("toggles not applied: %+v", cfg)
	}
	if cfg.Transport != TransportDBus || cfg.Telemetry != TelemetryPeriph {
		t.Errorf("backends = %s/%s", cfg.Transport, cfg.Telemetry)
	}
	if cfg.UPSAddr != 0x36 {
		t.Errorf("UPSAddr = %#x", cfg.UPSAddr)
	}
	if cfg.SleepTime != 500*time.Millisecond {
		t.Errorf("SleepTime = %v", cfg.SleepTime)
	}
	if strings.Join(cfg.SerialPorts, "|") != "/dev/ttyAMA0|/dev/serial0" {
		t.Errorf("SerialPorts = %v", cfg.SerialPorts)
	}
}

func TestLoadReportsEveryProblem(t *testing.T) {
	env := map[string]string{
		"ALARM_SLEEP_TIME": "soon",
		"ALARM_TRANSPORT":  "carrier-pigeon",
		"ALARM_UPS_ADDR":   "0x99",
	}
	_, err := LoadFrom(lookupFrom(env))
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{
		"ALARM_TRUSTED_PHONE is required",
		"ALARM_EMAIL_PASSWORD is required",
		"ALARM_LOG_PATH is required",
		"ALARM_SLEEP_TIME: invalid interval",
		"ALARM_TRANSPORT: unknown transport",
		"ALARM_UPS_ADDR: invalid I2C address",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoadUsesProcessEnvironment(t *testing.T) {
	for k, v := range baseEnv() {
		t.Setenv(k, v)
	}
	t.Setenv("ALARM_NAME", "Garage")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "Garage" {
		t.Errorf("Name = %q", cfg.Name)
	}
}
