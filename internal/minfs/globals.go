package minfs

import (
	"errors"
	"runtime"

	"github.com/gookit/color"
)

// Global variables
var (
	Debug      bool
	ConfigFile = "/etc/minfs.conf"
	version    = "dev" //default version; overridden at build time
	arch       = runtime.GOARCH
	buildDate  = "unknown" // overridden at build time

	// DefaultSearchRoot is the target prefix of the STLinux sh4 devkit.
	DefaultSearchRoot = "/opt/STM/STLinux-2.4/devkit/sh4/target"
)

// Error taxonomy. Everything but the collaborator failures is non-fatal and
// ends up as a Warning on the closure.
var (
	ErrBinaryNotFound             = errors.New("binary not found under any executable directory")
	ErrPackageNotOwned            = errors.New("no package owns the binary")
	ErrUnresolvedLibrary          = errors.New("linker could not resolve library")
	ErrManifestProbe              = errors.New("content probe failed")
	ErrDegenerateCanonicalization = errors.New("canonical pattern is over-broad")
	ErrCommandTimeout             = errors.New("external command timed out")
	errUnknownBackend             = errors.New("unknown backend")
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
