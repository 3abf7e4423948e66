package network

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// InterfaceState is one interface's sysfs snapshot, per spec.md §4.5.
// Missing or unreadable files yield the documented sentinel values rather
// than an error, since a flaky sysfs read about one interface should never
// take down the whole probe.
type InterfaceState struct {
	Name             string
	OperState        string // sentinel: "unknown"
	Carrier          int    // sentinel: -1
	Type             string // sentinel: "unknown"
	CarrierChanges   int64  // sentinel: -1
	CarrierDownCount int64  // sentinel: -1
}

const (
	sentinelString = "unknown"
	sentinelInt    = -1
)

// SysfsSource enumerates and reads /sys/class/net; isolated behind an
// interface so tests can substitute a fixture directory.
type SysfsSource interface {
	Interfaces() ([]string, error)
	Read(name string) InterfaceState
}

// RealSysfsSource reads from the live /sys/class/net tree.
type RealSysfsSource struct {
	Root string // defaults to "/sys/class/net"
}

var _ SysfsSource = (*RealSysfsSource)(nil)

func (s *RealSysfsSource) root() string {
	if s.Root != "" {
		return s.Root
	}
	return "/sys/class/net"
}

// Interfaces lists interface names under the sysfs root, excluding any whose
// resolved realpath contains "/virtual/" — spec.md §4.5's rule for skipping
// loopback/bridge/veth/etc pseudo-devices.
func (s *RealSysfsSource) Interfaces() ([]string, error) {
	entries, err := os.ReadDir(s.root())
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		path := filepath.Join(s.root(), e.Name())
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			continue
		}
		if strings.Contains(real, "/virtual/") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (s *RealSysfsSource) Read(name string) InterfaceState {
	base := filepath.Join(s.root(), name)
	return InterfaceState{
		Name:             name,
		OperState:        readString(filepath.Join(base, "operstate"), sentinelString),
		Carrier:          int(readInt(filepath.Join(base, "carrier"), sentinelInt)),
		Type:             readString(filepath.Join(base, "type"), sentinelString),
		CarrierChanges:   readInt(filepath.Join(base, "carrier_changes"), sentinelInt),
		CarrierDownCount: readInt(filepath.Join(base, "carrier_down_count"), sentinelInt),
	}
}

func readString(path string, fallback string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	return strings.TrimSpace(string(b))
}

func readInt(path string, fallback int64) int64 {
	s := readString(path, "")
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}
