// Package netutil picks the address the overlay control API listens on.
package netutil

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// ErrNoBindAddr means neither the preferred address nor any candidate could be bound.
var ErrNoBindAddr = errors.New("no available overlay API bind address")

// SelectBindAddr returns preferred when it can be bound, otherwise the first free candidate
// when autoFallback is set. Malformed addresses are reported, not skipped.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	if preferred != "" {
		ok, err := IsAddrAvailable(preferred)
		if err != nil {
			return "", err
		}
		if ok {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("preferred bind address in use: %s", preferred)
		}
	}

	seen := map[string]bool{preferred: true}
	for _, addr := range candidates {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		ok, err := IsAddrAvailable(addr)
		if err != nil {
			return "", err
		}
		if ok {
			if preferred != "" {
				slog.Warn("overlay API falling back", "preferred", preferred, "addr", addr)
			}
			return addr, nil
		}
	}

	return "", fmt.Errorf("%w (tried %d)", ErrNoBindAddr, len(seen))
}

// IsAddrAvailable reports whether addr can be listened on. A busy port is not an error;
// an address that is not host:port is.
func IsAddrAvailable(addr string) (bool, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return false, fmt.Errorf("bind address %q: %w", addr, err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}
