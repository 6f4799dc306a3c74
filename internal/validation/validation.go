package validation

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrInvalidPath     = errors.New("invalid file path")
	ErrPathNotExists   = errors.New("path does not exist")
	ErrInvalidAddr     = errors.New("invalid listen address")
	ErrInvalidFileName = errors.New("invalid file name")
	ErrEmptyString     = errors.New("value must not be empty")
	ErrOutOfRange      = errors.New("value out of range")
)

// ValidateFilePath rejects empty paths and paths the OS cannot represent.
// With mustExist the path must also stat.
func ValidateFilePath(p string, mustExist bool) error {
	if p == "" {
		return ErrInvalidPath
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("%w: %q contains a NUL byte", ErrInvalidPath, p)
	}
	if mustExist {
		if _, err := os.Stat(filepath.Clean(p)); err != nil {
			return fmt.Errorf("%w: %v", ErrPathNotExists, err)
		}
	}
	return nil
}

// ValidateFileName accepts a single path element that stays inside the
// directory it is joined to.
func ValidateFileName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains a separator", ErrInvalidFileName, name)
	case filepath.Base(name) != name:
		return fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return nil
}

// ValidateAddr checks a host:port address for network ("tcp" or "udp").
func ValidateAddr(network, addr string) error {
	if addr == "" {
		return ErrInvalidAddr
	}
	var err error
	switch network {
	case "udp":
		_, err = net.ResolveUDPAddr("udp", addr)
	default:
		_, err = net.ResolveTCPAddr("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	return nil
}

func ValidateStringNonEmpty(s string) error {
	if s == "" {
		return ErrEmptyString
	}
	return nil
}

func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}

func ValidateRangeInt64(v, min, max int64) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}

// ValidateDuration requires min <= d <= max.
func ValidateDuration(d, min, max time.Duration) error {
	if d < min || d > max {
		return fmt.Errorf("%w: %s not in [%s,%s]", ErrOutOfRange, d, min, max)
	}
	return nil
}
