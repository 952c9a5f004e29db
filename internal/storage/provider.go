package storage

import "certmill/internal/ports"

// Provider is the storage contract used across the API and the
// cleanup CLI. It is an alias to ports.StorageProvider to keep
// call-sites simple.
type Provider = ports.StorageProvider
