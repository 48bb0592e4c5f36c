package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesStreamsAndExitCode(t *testing.T) {
	r := NewRunner(5 * time.Second)
	res := r.Run(context.Background(), "sh", "-c", "echo out; echo err >&2; exit 3")
	if res.ExitCode != 3 {
		t.Fatalf("ExitCode = %d", res.ExitCode)
	}
	if res.OK() {
		t.Fatal("OK() = true for exit 3")
	}
	if strings.TrimSpace(res.Stdout) != "out" || strings.TrimSpace(res.Stderr) != "err" {
		t.Fatalf("streams = %q / %q", res.Stdout, res.Stderr)
	}
	if !strings.Contains(res.String(), "exit: 3") {
		t.Fatalf("String() = %q", res.String())
	}
}

func TestRunMissingBinary(t *testing.T) {
	var r Runner
	res := r.Run(context.Background(), "/nonexistent/alarm-tool")
	if res.Err == nil || res.ExitCode != -1 {
		t.Fatalf("res = %+v", res)
	}
	if res := r.Run(context.Background()); res.Err == nil {
		t.Fatal("empty command should fail")
	}
}

func TestRunTimeout(t *testing.T) {
	r := NewRunner(50 * time.Millisecond)
	res := r.Run(context.Background(), "sleep", "5")
	if res.Err == nil || !strings.Contains(res.Err.Error(), "timed out") {
		t.Fatalf("Err = %v", res.Err)
	}
	if got := Describe("sleep", res.Err); got != "sleep: command timed out" {
		t.Fatalf("Describe = %q", got)
	}
}

func TestDescribe(t *testing.T) {
	if Describe("x", nil) != "" {
		t.Fatal("nil error should describe as empty")
	}
	if got := Describe("mmcli", errors.New("boom")); got != "mmcli failed" {
		t.Fatalf("Describe = %q", got)
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		load, active string
		want         int
	}{
		{"loaded", "active", StatusActive},
		{"loaded", "reloading", StatusActive},
		{"loaded", "inactive", StatusInactive},
		{"loaded", "failed", StatusInactive},
		{"loaded", "activating", StatusInactive},
		{"not-found", "inactive", StatusUnknown},
		{"loaded", "", StatusUnknown},
	}
	for _, tt := range tests {
		if got := statusCode(tt.load, tt.active); got != tt.want {
			t.Errorf("statusCode(%q, %q) = %d, want %d", tt.load, tt.active, got, tt.want)
		}
	}
}

type scriptedRunner struct {
	calls [][]string
	res   Result
}

func (s *scriptedRunner) Run(_ context.Context, args ...string) Result {
	s.calls = append(s.calls, args)
	res := s.res
	res.Args = args
	return res
}

func TestUnitsStatus(t *testing.T) {
	runner := &scriptedRunner{res: Result{ExitCode: 3}}
	u := &Units{runner: runner, query: func(_ context.Context, unit string) (map[string]interface{}, error) {
		if unit != "motion.service" {
			t.Errorf("queried %q", unit)
		}
		return map[string]interface{}{"LoadState": "loaded", "ActiveState": "active"}, nil
	}}
	if !u.Active(context.Background(), "motion") {
		t.Fatal("motion should be active")
	}
	if len(runner.calls) != 0 {
		t.Fatalf("systemctl should not run when dbus answers: %v", runner.calls)
	}

	u.query = func(context.Context, string) (map[string]interface{}, error) {
		return nil, errors.New("no bus")
	}
	if got := u.Status(context.Background(), "motion"); got != 3 {
		t.Fatalf("fallback Status = %d", got)
	}
	if strings.Join(runner.calls[0], " ") != "systemctl status motion" {
		t.Fatalf("fallback call = %v", runner.calls[0])
	}

	runner.res = Result{ExitCode: -1, Err: errors.New("not found")}
	if got := u.Status(context.Background(), "motion"); got != StatusUnknown {
		t.Fatalf("Status without systemctl = %d", got)
	}
}

func TestCameraArgs(t *testing.T) {
	runner := &scriptedRunner{}
	cam := NewCamera(runner, "/dev/video0")

	if code := cam.Photo(context.Background(), "/log/photo-A.jpg"); code != 0 {
		t.Fatalf("Photo = %d", code)
	}
	if code := cam.Video(context.Background(), "/log/video-A.mkv", 7); code != 0 {
		t.Fatalf("Video = %d", code)
	}
	wantPhoto := "fswebcam --no-banner -d /dev/video0 -r 1920x1080 /log/photo-A.jpg"
	wantVideo := "ffmpeg -t 7 -f v4l2 -framerate 30 -video_size 800x600 -i /dev/video0 -pix_fmt yuv420p /log/video-A.mkv"
	if got := strings.Join(runner.calls[0], " "); got != wantPhoto {
		t.Errorf("photo args = %q", got)
	}
	if got := strings.Join(runner.calls[1], " "); got != wantVideo {
		t.Errorf("video args = %q", got)
	}

	runner.res = Result{ExitCode: 0, Err: errors.New("exec: not found")}
	if code := cam.Photo(context.Background(), "/log/p.jpg"); code != -1 {
		t.Errorf("Photo with start failure = %d", code)
	}
}

func TestArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")
	a := NewArtifacts(dir)
	if err := a.EnsureDir(); err != nil {
		t.Fatal(err)
	}
	if err := a.EnsureDir(); err != nil {
		t.Fatalf("second EnsureDir: %v", err)
	}

	p1, err := a.Write("invalid-sms-", ".json", []byte(`{"text":"RESTART"}`))
	if err != nil {
		t.Fatal(err)
	}
	p2, err := a.Write("invalid-sms-", ".json", []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if p1 == p2 {
		t.Fatal("artifact names collide")
	}
	if filepath.Dir(p1) != dir || !strings.HasPrefix(filepath.Base(p1), "invalid-sms-") || !strings.HasSuffix(p1, ".json") {
		t.Fatalf("bad artifact path %q", p1)
	}
	data, err := os.ReadFile(p1)
	if err != nil || string(data) != `{"text":"RESTART"}` {
		t.Fatalf("contents = %q, %v", data, err)
	}

	reserved := a.Reserve("photo-", ".jpg")
	if _, err := os.Stat(reserved); !os.IsNotExist(err) {
		t.Fatalf("Reserve must not create the file: %v", err)
	}
}
