// Package console drives an interactive 3270 console session through an
// external terminal emulator subprocess.
//
// The console exposes no structured responses and no event notifications:
// every observation is a full-screen poll, and all state transitions (screen
// full, guest halted, guest running) are inferred from a fixed-format status
// field on the screen. The package layers a command protocol, a screen
// formatter, a polling session driver with recovery semantics, and the
// login/logoff lifecycle on top of the subprocess transport.
package console
