package health

import (
	"codeberg.org/tessel/kairo/internal/errors"
	"codeberg.org/tessel/kairo/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	nvmlFairC     = 60
	nvmlSeriousC  = 75
	nvmlCriticalC = 90
)

const (
	ErrNVMLInitFailed  = errors.ErrorCode("health_nvml_init_failed")
	ErrNVMLNoDevice    = errors.ErrorCode("health_nvml_no_device")
	ErrNVMLReadFailed  = errors.ErrorCode("health_nvml_read_failed")
	ErrNVMLShutdownErr = errors.ErrorCode("health_nvml_shutdown_failed")
)

type nvmlError struct {
	ret nvml.Return
}

func (e *nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}

	return &nvmlError{ret: ret}
}

// NVMLThermalProbe wraps an inner probe and overlays the thermal state
// with GPU temperature readings on machines with an NVIDIA device.
// The GPU is often the hottest component under load, so its
// temperature band upgrades (never downgrades) the inner thermal
// reading.
type NVMLThermalProbe struct {
	inner  Probe
	device nvml.Device
}

func NewNVMLThermalProbe(inner Probe) (*NVMLThermalProbe, error) {
	errFactory := errors.New()

	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, errFactory.Wrap(ErrNVMLInitFailed, newNVMLError(ret))
	}

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		nvml.Shutdown()
		return nil, errFactory.Wrap(ErrNVMLNoDevice, newNVMLError(ret))
	}
	if count == 0 {
		nvml.Shutdown()
		return nil, errFactory.New(ErrNVMLNoDevice)
	}

	device, ret := nvml.DeviceGetHandleByIndex(0)
	if ret != nvml.SUCCESS {
		nvml.Shutdown()
		return nil, errFactory.Wrap(ErrNVMLNoDevice, newNVMLError(ret))
	}

	if name, ret := device.GetName(); ret == nvml.SUCCESS {
		logger.Info().Msgf("Overlaying thermal state from GPU: %v", name)
	}

	return &NVMLThermalProbe{inner: inner, device: device}, nil
}

func (p *NVMLThermalProbe) Read() (Snapshot, error) {
	snap, err := p.inner.Read()
	if err != nil {
		return Snapshot{}, err
	}

	temp, ret := p.device.GetTemperature(nvml.TEMPERATURE_GPU)
	if ret != nvml.SUCCESS {
		logger.Debug().Msgf("GPU temperature read failed: %v", nvml.ErrorString(ret))
		return snap, nil
	}

	if state := thermalStateForGPU(int(temp)); state > snap.Thermal {
		snap.Thermal = state
	}

	return snap, nil
}

func (p *NVMLThermalProbe) OnChange(fn func(Snapshot)) (cancel func()) {
	return p.inner.OnChange(fn)
}

// Shutdown releases the NVML handle.
func (p *NVMLThermalProbe) Shutdown() error {
	errFactory := errors.New()

	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return errFactory.Wrap(ErrNVMLShutdownErr, newNVMLError(ret))
	}

	return nil
}

func thermalStateForGPU(tempC int) ThermalState {
	switch {
	case tempC >= nvmlCriticalC:
		return ThermalCritical
	case tempC >= nvmlSeriousC:
		return ThermalSerious
	case tempC >= nvmlFairC:
		return ThermalFair
	default:
		return ThermalNominal
	}
}
