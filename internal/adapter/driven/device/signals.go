// Package device reads best-effort environment hints that scale the capture
// heartbeat. Anything it cannot determine reads as the neutral answer.
package device

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/asialea/promptwatch/internal/domain/port/driven"
)

const (
	defaultPowerSupplyDir = "/sys/class/power_supply"
	lowBatteryThreshold   = 20
)

// Signals reports save-data preference from configuration and battery state
// from the kernel's power supply interface.
type Signals struct {
	saveData       bool
	powerSupplyDir string
}

var _ driven.DeviceSignals = (*Signals)(nil)

func New(saveData bool) *Signals {
	return &Signals{saveData: saveData, powerSupplyDir: defaultPowerSupplyDir}
}

// NewWithPowerSupplyDir overrides the sysfs root. Intended for testing.
func NewWithPowerSupplyDir(saveData bool, dir string) *Signals {
	return &Signals{saveData: saveData, powerSupplyDir: dir}
}

func (s *Signals) SaveData() bool {
	return s.saveData
}

// LowBattery reports true when any battery is below the threshold and not
// charging. Missing sysfs entries (desktops, containers) read as false.
func (s *Signals) LowBattery() bool {
	entries, err := os.ReadDir(s.powerSupplyDir)
	if err != nil {
		return false
	}

	for _, entry := range entries {
		dir := filepath.Join(s.powerSupplyDir, entry.Name())

		kind, err := readSysfs(filepath.Join(dir, "type"))
		if err != nil || kind != "Battery" {
			continue
		}

		capacityRaw, err := readSysfs(filepath.Join(dir, "capacity"))
		if err != nil {
			continue
		}
		capacity, err := strconv.Atoi(capacityRaw)
		if err != nil {
			slog.Warn("unreadable battery capacity", "supply", entry.Name(), "value", capacityRaw)
			continue
		}

		status, err := readSysfs(filepath.Join(dir, "status"))
		if err != nil {
			continue
		}

		if capacity < lowBatteryThreshold && status != "Charging" {
			return true
		}
	}
	return false
}

func readSysfs(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
