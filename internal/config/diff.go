// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"reflect"
	"sort"
)

// ChangeSummary describes what a reload changed.
type ChangeSummary struct {
	Added   []string
	Removed []string
	Changed []string
	// RestartRequired is set when anything besides the device list changed.
	RestartRequired bool
}

// Empty reports whether nothing changed.
func (s ChangeSummary) Empty() bool {
	return len(s.Added) == 0 && len(s.Removed) == 0 && len(s.Changed) == 0 && !s.RestartRequired
}

// Diff compares two configurations. Devices are matched by id.
func Diff(old, next AppConfig) ChangeSummary {
	var s ChangeSummary

	before := make(map[string]DeviceConfig, len(old.Devices))
	for _, d := range old.Devices {
		before[d.ID] = d
	}
	after := make(map[string]DeviceConfig, len(next.Devices))
	for _, d := range next.Devices {
		after[d.ID] = d
		prev, ok := before[d.ID]
		switch {
		case !ok:
			s.Added = append(s.Added, d.ID)
		case !reflect.DeepEqual(prev, d):
			s.Changed = append(s.Changed, d.ID)
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			s.Removed = append(s.Removed, id)
		}
	}
	sort.Strings(s.Added)
	sort.Strings(s.Removed)
	sort.Strings(s.Changed)

	old.Devices, next.Devices = nil, nil
	old.Version, next.Version = "", ""
	s.RestartRequired = !reflect.DeepEqual(old, next)
	return s
}
