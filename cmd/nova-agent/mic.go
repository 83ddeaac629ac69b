package main

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
)

// micCapture streams raw pcm_s16le 16kHz mono microphone audio from an
// ffmpeg subprocess. Close kills the process, which unblocks any pending
// Read.
type micCapture struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func micFFmpegArgs(goos, device string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	switch goos {
	case "darwin":
		// `none:<index>` keeps ffmpeg from opening a video device/camera.
		args = append(args, "-f", "avfoundation", "-i", "none:"+device)
	default:
		args = append(args, "-f", "pulse", "-i", device)
	}
	return append(args, "-ac", "1", "-ar", "16000", "-f", "s16le", "-")
}

func defaultMicDevice() string {
	if runtime.GOOS == "darwin" {
		return "0"
	}
	return "default"
}

func openMicrophone(device string) (io.ReadCloser, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	cmd := exec.Command("ffmpeg", micFFmpegArgs(runtime.GOOS, device)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg mic capture: %w", err)
	}
	return &micCapture{cmd: cmd, stdout: stdout}, nil
}

func (m *micCapture) Read(p []byte) (int, error) {
	return m.stdout.Read(p)
}

func (m *micCapture) Close() error {
	_ = m.cmd.Process.Kill()
	_, _ = m.cmd.Process.Wait()
	return nil
}
