package config

import (
	"reflect"
	"slices"
	"strings"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// TuningChanged is true when a tuning or mana value changed. These are
	// hot-applied to the running session.
	TuningChanged bool
	// TuningFields names the changed tuning keys, in YAML spelling.
	TuningFields []string

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists sections that changed but only take effect on
	// the next start (providers, spells, journal, listen address).
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.TuningChanged && !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.TuningFields = diffFields(old.Tuning, new.Tuning)
	for _, f := range diffFields(old.Mana, new.Mana) {
		d.TuningFields = append(d.TuningFields, "mana."+f)
	}
	d.TuningChanged = len(d.TuningFields) > 0

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Spells != new.Spells {
		d.RestartRequired = append(d.RestartRequired, "spells")
	}
	if old.Journal != new.Journal {
		d.RestartRequired = append(d.RestartRequired, "journal")
	}
	return d
}

// diffFields returns the yaml names of the top-level fields that differ
// between two structs of the same type. Pointer fields compare by value.
func diffFields(a, b any) []string {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	typ := va.Type()
	var out []string
	for i := range typ.NumField() {
		if !reflect.DeepEqual(va.Field(i).Interface(), vb.Field(i).Interface()) {
			out = append(out, yamlName(typ.Field(i)))
		}
	}
	slices.Sort(out)
	return out
}

func yamlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	if name == "" {
		return f.Name
	}
	return name
}
