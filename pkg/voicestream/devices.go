package voicestream

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// AudioDevice describes one host audio device.
type AudioDevice struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	IsDefault         bool
	IsInput           bool
	HostAPI           string
}

// DeviceManager enumerates host audio devices. Initialize owns the PortAudio
// host handle; Cleanup releases it.
type DeviceManager struct {
	mu      sync.RWMutex
	devices []AudioDevice
	log     *Logger
}

func NewDeviceManager(log *Logger) *DeviceManager {
	return &DeviceManager{
		log: log.WithComponent("devices"),
	}
}

// Initialize brings up the audio host and scans devices.
func (dm *DeviceManager) Initialize() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return NewDeviceUnavailableError(err)
	}
	if err := dm.refreshLocked(); err != nil {
		return err
	}

	dm.log.WithField("device_count", len(dm.devices)).Info("Audio devices scanned")
	return nil
}

// Cleanup releases the audio host.
func (dm *DeviceManager) Cleanup() {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if err := portaudio.Terminate(); err != nil {
		dm.log.WithError(err).Warn("Failed to terminate audio host")
	}
}

func (dm *DeviceManager) refreshLocked() error {
	dm.devices = dm.devices[:0]

	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		dm.log.WithError(err).Warn("No default input device")
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return NewDeviceUnavailableError(err)
	}

	for i, dev := range devices {
		hostAPI := "Unknown"
		if dev.HostApi != nil {
			hostAPI = dev.HostApi.Name
		}
		dm.devices = append(dm.devices, AudioDevice{
			ID:                i,
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefault:         defaultInput != nil && dev == defaultInput,
			IsInput:           dev.MaxInputChannels > 0,
			HostAPI:           hostAPI,
		})
	}
	return nil
}

// Refresh rescans the device list.
func (dm *DeviceManager) Refresh() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.refreshLocked()
}

// InputDevices returns the devices that can capture audio.
func (dm *DeviceManager) InputDevices() []AudioDevice {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	var inputs []AudioDevice
	for _, d := range dm.devices {
		if d.IsInput {
			inputs = append(inputs, d)
		}
	}
	return inputs
}

// DefaultInput returns the default capture device.
func (dm *DeviceManager) DefaultInput() (AudioDevice, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	for _, d := range dm.devices {
		if d.IsInput && d.IsDefault {
			return d, nil
		}
	}
	return AudioDevice{}, NewDeviceUnavailableError(fmt.Errorf("no default input device"))
}

// Device returns the device with the given id.
func (dm *DeviceManager) Device(id int) (AudioDevice, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	for _, d := range dm.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return AudioDevice{}, NewDeviceUnavailableError(fmt.Errorf("device %d not found", id))
}
