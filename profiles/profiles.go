// Package profiles ships the built-in Modbus device profiles.
package profiles

import (
	"fmt"
	"sort"

	"github.com/gridvolt/emscontroller/modbusreg"
)

var builtin = map[string]func() *modbusreg.Profile{
	"hithium_ess_5016": Hithium,
	"wstech_pcs":       Wstech,
}

// Get returns a fresh copy of the named profile.
func Get(name string) (*modbusreg.Profile, error) {
	build, ok := builtin[name]
	if !ok {
		return nil, fmt.Errorf("unknown modbus profile '%s'", name)
	}
	return build(), nil
}

// List returns the available profile names, sorted.
func List() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
