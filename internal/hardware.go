package internal

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Device is the accelerator local inference offloads to.
type Device string

const (
	DeviceMPS  Device = "mps"
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

// allGPULayers asks llama.cpp to offload every layer.
const allGPULayers = 99

// DetectHardware picks the device for local inference. MEM_DEVICE (cpu|cuda|mps)
// overrides detection, which is how embeddings stay reproducible on mixed hosts.
func DetectHardware() Device {
	switch d := Device(strings.ToLower(os.Getenv("MEM_DEVICE"))); d {
	case DeviceCPU, DeviceCUDA, DeviceMPS:
		return d
	}

	if hasMetal() {
		return DeviceMPS
	}
	if hasCUDA() {
		return DeviceCUDA
	}
	return DeviceCPU
}

// Offloads reports whether model layers should be moved onto d.
func (d Device) Offloads() bool {
	return d == DeviceMPS || d == DeviceCUDA
}

func hasMetal() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

func hasCUDA() bool {
	if _, err := os.Stat("/dev/nvidia0"); err == nil {
		return true
	}
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}
