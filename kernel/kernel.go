// Package kernel holds the class library that turns a bootstrapped object
// memory into a working Smalltalk system. The sources are embedded and filed
// in at boot.
package kernel

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/bluebook-vm/bluebook/compiler"
	"github.com/bluebook-vm/bluebook/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("bluebook.kernel")

//go:embed *.st
var sources embed.FS

// Files lists the kernel sources in file-in order.
var Files = []string{
	"object.st",
	"number.st",
	"collection.st",
	"exception.st",
	"process.st",
}

// Source answers the kernel sources concatenated in file-in order.
func Source() (string, error) {
	var sb strings.Builder
	for _, name := range Files {
		b, err := fs.ReadFile(sources, name)
		if err != nil {
			return "", fmt.Errorf("kernel: %w", err)
		}
		sb.Write(b)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// Boot builds a VM from scratch: the bootstrap classes, the compiler, and
// the kernel class library.
func Boot(opts vm.Options) (*vm.VM, error) {
	start := time.Now()
	src, err := Source()
	if err != nil {
		return nil, err
	}

	v := vm.New(opts)
	compiler.Install(v)
	classes, err := compiler.FileIn(v, src)
	if err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	log.Infof("booted kernel: %d class definitions in %s", len(classes), time.Since(start))
	return v, nil
}

// Load restores a VM from an image file and installs the compiler.
func Load(path string, opts vm.Options) (*vm.VM, error) {
	v, err := vm.LoadSnapshotFile(path, opts)
	if err != nil {
		return nil, err
	}
	compiler.Install(v)
	return v, nil
}

// Open loads the image at path when it exists and boots otherwise.
func Open(path string, opts vm.Options) (*vm.VM, error) {
	if path == "" {
		return Boot(opts)
	}
	v, err := Load(path, opts)
	if errors.Is(err, fs.ErrNotExist) {
		log.Infof("no image at %s, booting", path)
		return Boot(opts)
	}
	return v, err
}
