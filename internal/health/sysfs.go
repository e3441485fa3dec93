package health

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"codeberg.org/tessel/kairo/internal/errors"
)

const (
	thermalFairMilliC     = 60000
	thermalSeriousMilliC  = 75000
	thermalCriticalMilliC = 90000
)

// SysfsProbe reads device health from the Linux sysfs tree: battery
// state from power_supply, thermal zones, and interface operstate for
// reachability. It has no change-event source, so OnChange callbacks
// never fire and the monitor relies on its periodic tick.
type SysfsProbe struct {
	root string
}

func NewSysfsProbe() *SysfsProbe {
	return &SysfsProbe{root: "/sys"}
}

// NewSysfsProbeAt roots the probe at dir instead of /sys.
func NewSysfsProbeAt(dir string) *SysfsProbe {
	return &SysfsProbe{root: dir}
}

func (p *SysfsProbe) Read() (Snapshot, error) {
	errFactory := errors.New()

	snap := Snapshot{
		BatteryLevel: 1.0,
		Thermal:      ThermalNominal,
		NetReach:     ReachRequiresConnection,
		Timestamp:    time.Now(),
	}

	foundAny := false

	if level, discharging, ok := p.readBattery(); ok {
		snap.BatteryLevel = level
		snap.LowPowerMode = discharging && level < 0.2
		foundAny = true
	}

	if state, ok := p.readThermal(); ok {
		snap.Thermal = state
		foundAny = true
	}

	if p.interfaceUp() {
		snap.NetReach = ReachSatisfied
		foundAny = true
	}

	if !foundAny {
		return Snapshot{}, errFactory.New(ErrProbeReadFailed)
	}

	return snap, nil
}

// OnChange is a no-op for sysfs; there is no event source to watch.
func (p *SysfsProbe) OnChange(func(Snapshot)) (cancel func()) {
	return func() {}
}

func (p *SysfsProbe) readBattery() (level float64, discharging bool, ok bool) {
	supplies, err := filepath.Glob(filepath.Join(p.root, "class/power_supply/*"))
	if err != nil {
		return 0, false, false
	}

	for _, supply := range supplies {
		kind, err := os.ReadFile(filepath.Join(supply, "type"))
		if err != nil || strings.TrimSpace(string(kind)) != "Battery" {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(supply, "capacity"))
		if err != nil {
			continue
		}
		capacity, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			continue
		}

		status, _ := os.ReadFile(filepath.Join(supply, "status"))

		return float64(capacity) / 100.0, strings.TrimSpace(string(status)) == "Discharging", true
	}

	return 0, false, false
}

func (p *SysfsProbe) readThermal() (ThermalState, bool) {
	zones, err := filepath.Glob(filepath.Join(p.root, "class/thermal/thermal_zone*/temp"))
	if err != nil || len(zones) == 0 {
		return ThermalNominal, false
	}

	maxMilliC := 0
	found := false
	for _, zone := range zones {
		raw, err := os.ReadFile(zone)
		if err != nil {
			continue
		}
		milliC, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			continue
		}
		found = true
		if milliC > maxMilliC {
			maxMilliC = milliC
		}
	}
	if !found {
		return ThermalNominal, false
	}

	switch {
	case maxMilliC >= thermalCriticalMilliC:
		return ThermalCritical, true
	case maxMilliC >= thermalSeriousMilliC:
		return ThermalSerious, true
	case maxMilliC >= thermalFairMilliC:
		return ThermalFair, true
	default:
		return ThermalNominal, true
	}
}

func (p *SysfsProbe) interfaceUp() bool {
	states, err := filepath.Glob(filepath.Join(p.root, "class/net/*/operstate"))
	if err != nil {
		return false
	}

	for _, state := range states {
		if strings.Contains(state, "/lo/") {
			continue
		}
		raw, err := os.ReadFile(state)
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(raw)) == "up" {
			return true
		}
	}

	return false
}
