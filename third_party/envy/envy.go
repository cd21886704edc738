// Package envy automatically exposes environment
// variables for all of your flags.
package envy

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Parse takes a prefix string and exposes environment variables
// for all flags in the default FlagSet (flag.CommandLine) in the
// form of PREFIX_FLAGNAME.
func Parse(p string) {
	update(p, flag.CommandLine)
}

// ParseFlagSet is like Parse, but for the provided FlagSet.
func ParseFlagSet(p string, fs *flag.FlagSet) {
	update(p, fs)
}

// EnvVar returns the environment variable consulted for the named flag.
func EnvVar(p, name string) string {
	envVar := fmt.Sprintf("%s_%s", p, strings.ToUpper(name))
	return strings.ReplaceAll(envVar, "-", "_")
}

// update takes a prefix string p and *flag.FlagSet. Each flag
// in the FlagSet is exposed as an upper case environment variable
// prefixed with p. Any flag that was not explicitly set by a user
// is updated to the environment variable, if set.
func update(p string, fs *flag.FlagSet) {
	// Build a map of explicitly set flags.
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	fs.VisitAll(func(f *flag.Flag) {
		envVar := EnvVar(p, f.Name)

		// Update the value if it hasn't
		// already been set.
		if val := os.Getenv(envVar); val != "" && !set[f.Name] {
			fs.Set(f.Name, val)
		}

		// Append the env var to the
		// Flag.Usage field.
		f.Usage = fmt.Sprintf("%s [%s]", f.Usage, envVar)
	})
}
