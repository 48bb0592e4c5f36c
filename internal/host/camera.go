package host

import (
	"context"
	"log"
	"strconv"
)

const (
	photoResolution = "1920x1080"
	videoSize       = "800x600"
	videoFramerate  = "30"
)

// Camera captures stills with fswebcam and clips with ffmpeg from a V4L2
// device.
type Camera struct {
	runner commandRunner
	device string
}

// NewCamera returns a Camera reading from device (e.g. /dev/video0).
func NewCamera(runner commandRunner, device string) *Camera {
	return &Camera{runner: runner, device: device}
}

// Photo captures a still image to path and returns the tool's exit code.
func (c *Camera) Photo(ctx context.Context, path string) int {
	res := c.runner.Run(ctx, photoArgs(c.device, path)...)
	if !res.OK() {
		log.Printf("Camera: photo capture failed: %s\n%s", Describe("fswebcam", res.Err), res.Stderr)
	}
	return exitStatus(res)
}

// Video records seconds of video to path and returns the tool's exit code.
func (c *Camera) Video(ctx context.Context, path string, seconds int) int {
	res := c.runner.Run(ctx, videoArgs(c.device, path, seconds)...)
	if !res.OK() {
		log.Printf("Camera: video capture failed: %s\n%s", Describe("ffmpeg", res.Err), res.Stderr)
	}
	return exitStatus(res)
}

func photoArgs(device, path string) []string {
	return []string{"fswebcam", "--no-banner", "-d", device, "-r", photoResolution, path}
}

func videoArgs(device, path string, seconds int) []string {
	return []string{
		"ffmpeg",
		"-t", strconv.Itoa(seconds),
		"-f", "v4l2",
		"-framerate", videoFramerate,
		"-video_size", videoSize,
		"-i", device,
		"-pix_fmt", "yuv420p",
		path,
	}
}

// exitStatus never reports success for a process that failed to start.
func exitStatus(res Result) int {
	if res.Err != nil && res.ExitCode == 0 {
		return -1
	}
	return res.ExitCode
}
