// Package storage builds the configured ports.StorageProvider.
package storage

import "vidrender/internal/ports"

// Provider lets binaries depend on this package alone.
type Provider = ports.StorageProvider
