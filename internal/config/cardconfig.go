package config

import (
	"fmt"

	"gopkg.in/ini.v1"

	"github.com/rapidaai/audiod/internal/node"
)

// explicitKeys lists the dB_at_N keys in canonical emission order.
var explicitKeys = func() [101]string {
	var keys [101]string
	for i := 0; i <= 100; i++ {
		keys[i] = fmt.Sprintf("dB_at_%d", i)
	}
	return keys
}()

// CardConfig holds the per-node volume-curve sections parsed from one
// card's INI file (§6). Section names are whatever priority-resolved label
// the caller used (UCM device name, jack name, or mixer-control name); this
// package doesn't do that resolution, only the per-section key parsing.
type CardConfig struct {
	// Sections preserves insertion order so Emit round-trips identically.
	order    []string
	sections map[string]node.VolumeCurve
}

// NewCardConfig returns an empty, ready-to-populate CardConfig.
func NewCardConfig() *CardConfig {
	return &CardConfig{sections: map[string]node.VolumeCurve{}}
}

// Set assigns (or replaces) the curve for a section, recording first-seen
// order.
func (c *CardConfig) Set(section string, curve node.VolumeCurve) {
	if _, ok := c.sections[section]; !ok {
		c.order = append(c.order, section)
	}
	c.sections[section] = curve
}

// Curve looks up a node's volume curve by its resolved section name.
func (c *CardConfig) Curve(section string) (node.VolumeCurve, bool) {
	v, ok := c.sections[section]
	return v, ok
}

// Sections returns the section names in file order.
func (c *CardConfig) Sections() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// ParseCardConfig reads a card config INI file (§6: volume_curve =
// simple_step | explicit per section). Bad individual sections are
// skipped with a descriptive error appended to the returned slice rather
// than aborting the whole file — a malformed card config should fall back
// to defaults for that node only (§7 "config" error class).
func ParseCardConfig(path string) (*CardConfig, []error) {
	cfg := NewCardConfig()
	var errs []error

	f, err := ini.Load(path)
	if err != nil {
		return cfg, []error{fmt.Errorf("loading card config %s: %w", path, err)}
	}

	for _, section := range f.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		curve, err := parseSection(section)
		if err != nil {
			errs = append(errs, fmt.Errorf("section %q: %w", section.Name(), err))
			continue
		}
		cfg.Set(section.Name(), curve)
	}
	return cfg, errs
}

func parseSection(section *ini.Section) (node.VolumeCurve, error) {
	kind := section.Key("volume_curve").String()
	switch kind {
	case "simple_step":
		maxV, err := section.Key("max_volume").Int()
		if err != nil {
			return node.VolumeCurve{}, fmt.Errorf("max_volume: %w", err)
		}
		step, err := section.Key("volume_step").Int()
		if err != nil {
			return node.VolumeCurve{}, fmt.Errorf("volume_step: %w", err)
		}
		return node.NewSimpleStep(maxV, step), nil

	case "explicit":
		var table [101]int
		for i, key := range explicitKeys {
			v, err := section.Key(key).Int()
			if err != nil {
				return node.VolumeCurve{}, fmt.Errorf("%s: %w", key, err)
			}
			table[i] = v
		}
		return node.NewExplicit(table), nil

	default:
		return node.VolumeCurve{}, fmt.Errorf("unknown volume_curve %q", kind)
	}
}

// Emit serializes the config back to canonical INI text. Parse(Emit(c)) is
// the identity on canonical form (§8 round-trip property): section order,
// key order and integer formatting are fixed.
func (c *CardConfig) Emit() string {
	out := ""
	for _, name := range c.order {
		curve := c.sections[name]
		out += fmt.Sprintf("[%s]\n", name)
		switch curve.Kind {
		case node.CurveSimpleStep:
			out += "volume_curve = simple_step\n"
			out += fmt.Sprintf("max_volume = %d\n", curve.MaxDBFSCenti)
			out += fmt.Sprintf("volume_step = %d\n", curve.StepDBCenti)
		case node.CurveExplicit:
			out += "volume_curve = explicit\n"
			for i, key := range explicitKeys {
				out += fmt.Sprintf("%s = %d\n", key, curve.Explicit[i])
			}
		}
		out += "\n"
	}
	return out
}
