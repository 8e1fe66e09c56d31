// Package build implements the streaming build pipeline: it drives a
// compiler toolchain as child processes, parses diagnostics out of its
// output, links and extracts artifacts, and registers the result in an
// Artifact Registry.
package build

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ToolchainKind names the family of compiler driving a build, so the
// pipeline can synthesize the right flag set.
type ToolchainKind string

const (
	ToolchainGCC   ToolchainKind = "gcc"
	ToolchainClang ToolchainKind = "clang"
)

// Toolchain identifies the compiler binary to invoke.
type Toolchain struct {
	ID   string
	Kind ToolchainKind
	// Prefix is prepended to the tool name, e.g. "arm-none-eabi-" so
	// Prefix+"gcc" / Prefix+"objcopy" resolve to the cross toolchain.
	Prefix string
}

func (t Toolchain) compiler() string {
	if t.Kind == ToolchainClang {
		return t.Prefix + "clang"
	}
	return t.Prefix + "gcc"
}

func (t Toolchain) objcopy() string {
	return t.Prefix + "objcopy"
}

func (t Toolchain) size() string {
	return t.Prefix + "size"
}

// Config describes one build: the project to compile, the toolchain and
// target to compile it for, and the sources to feed in.
type Config struct {
	ProjectPath   string
	ProjectID     string
	Toolchain     Toolchain
	Profile       string // e.g. "debug" or "release"
	MCUTarget     string // e.g. "cortex-m4"
	Optimization  string // e.g. "-O2"
	Defines       map[string]string
	IncludePaths  []string
	Sources       []string
	LinkerScript  string
}

// Hash returns a stable digest of Config's contents, usable as a cache key.
// Map and slice fields are sorted first so equal configs with differently
// ordered inputs hash identically.
func (c Config) Hash() string {
	var b strings.Builder

	fmt.Fprintf(&b, "project=%s|%s\n", c.ProjectPath, c.ProjectID)
	fmt.Fprintf(&b, "toolchain=%s|%s|%s\n", c.Toolchain.ID, c.Toolchain.Kind, c.Toolchain.Prefix)
	fmt.Fprintf(&b, "profile=%s|mcu=%s|opt=%s\n", c.Profile, c.MCUTarget, c.Optimization)

	defineKeys := make([]string, 0, len(c.Defines))
	for k := range c.Defines {
		defineKeys = append(defineKeys, k)
	}
	sort.Strings(defineKeys)
	for _, k := range defineKeys {
		fmt.Fprintf(&b, "define=%s=%s\n", k, c.Defines[k])
	}

	includes := append([]string(nil), c.IncludePaths...)
	sort.Strings(includes)
	for _, inc := range includes {
		fmt.Fprintf(&b, "include=%s\n", inc)
	}

	sources := append([]string(nil), c.Sources...)
	sort.Strings(sources)
	for _, src := range sources {
		fmt.Fprintf(&b, "source=%s\n", src)
	}

	fmt.Fprintf(&b, "linker_script=%s\n", c.LinkerScript)

	return fmt.Sprintf("%016x", xxhash.Sum64String(b.String()))
}

// compileFlags synthesizes the per-source compile flags from the config:
// target triple flags (via MCUTarget), optimization, includes, defines,
// warnings on, and function/data sections so the linker's --gc-sections can
// drop unused code.
func (c Config) compileFlags(source, objPath string) []string {
	flags := []string{
		"-c", source,
		"-o", objPath,
		"-Wall",
		"-ffunction-sections",
		"-fdata-sections",
	}
	if c.MCUTarget != "" {
		flags = append(flags, "-mcpu="+c.MCUTarget, "-mthumb")
	}
	if c.Optimization != "" {
		flags = append(flags, c.Optimization)
	}
	for _, inc := range c.IncludePaths {
		flags = append(flags, "-I"+inc)
	}

	defineKeys := make([]string, 0, len(c.Defines))
	for k := range c.Defines {
		defineKeys = append(defineKeys, k)
	}
	sort.Strings(defineKeys)
	for _, k := range defineKeys {
		v := c.Defines[k]
		if v == "" {
			flags = append(flags, "-D"+k)
		} else {
			flags = append(flags, "-D"+k+"="+v)
		}
	}

	return flags
}

func (c Config) linkFlags(objPaths []string, elfPath, mapPath string) []string {
	flags := append([]string(nil), objPaths...)
	flags = append(flags, "-o", elfPath, "--gc-sections", "-Wl,-Map="+mapPath)
	if c.LinkerScript != "" {
		flags = append(flags, "-T", c.LinkerScript)
	}
	if c.MCUTarget != "" {
		flags = append(flags, "-mcpu="+c.MCUTarget, "-mthumb")
	}
	return flags
}
