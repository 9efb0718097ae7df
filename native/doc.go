// Package native provides the native routine libraries a regvm program links
// against, and the loader that resolves library names from a configuration.
//
// Native routines take their inputs from and leave their results in the
// machine's global registers:
//
//	int ACC      integer argument and result
//	real RA, RB  real arguments; the result replaces RA
//	point PA     point argument
//	object SELF  string argument
//
// The core library is always registered. Further libraries are either
// registered from Go with Registry.Register or described by a <name>.toml
// file that re-exports routines of a registered library under new names.
package native
