// SPDX-License-Identifier: MIT
package source

import (
	"fmt"
	"io"

	"github.com/gordonklaus/portaudio"
)

// Initialize sets up the PortAudio subsystem. Pair it with Terminate.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate shuts the PortAudio subsystem down.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// InputDevice returns the device with the given index, or the system
// default input for DefaultDeviceID.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID == DefaultDeviceID {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", deviceID)
	}
	return devices[deviceID], nil
}

// ListDevices writes every capture-capable device to w.
func ListDevices(w io.Writer) error {
	devices, err := portaudio.Devices()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\nAvailable Input Devices\n\n")
	for i, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}
		iq := ""
		if device.MaxInputChannels >= 2 {
			iq = " [IQ capable]"
		}
		fmt.Fprintf(w, "[%d] %s%s\n", i, device.Name, iq)
		fmt.Fprintf(w, "    Input channels: %d\n", device.MaxInputChannels)
		fmt.Fprintf(w, "    Default sample rate: %.0f Hz\n", device.DefaultSampleRate)
		fmt.Fprintf(w, "    Latency: Low=%.2fms, High=%.2fms\n\n",
			device.DefaultLowInputLatency.Seconds()*1000,
			device.DefaultHighInputLatency.Seconds()*1000)
	}
	return nil
}
