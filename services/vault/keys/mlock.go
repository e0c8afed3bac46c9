// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build linux || darwin

package keys

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// minMemlockBytes is the locked-memory allowance below which guarded
// allocations are likely to fail under load.
const minMemlockBytes = 1 << 20

// CheckLockedMemory inspects RLIMIT_MEMLOCK and warns when the process
// cannot pin enough memory for key enclaves. Guarded buffers degrade to
// swappable pages when mlock fails, so a low limit is worth surfacing
// at startup rather than discovering in a swap file later.
func CheckLockedMemory(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &limit); err != nil {
		logger.Warn("unable to read RLIMIT_MEMLOCK", slog.String("error", err.Error()))
		return
	}

	if limit.Cur != unix.RLIM_INFINITY && limit.Cur < minMemlockBytes {
		logger.Warn("RLIMIT_MEMLOCK is low, key memory may be swappable",
			slog.Uint64("current_bytes", uint64(limit.Cur)),
			slog.Uint64("recommended_bytes", uint64(minMemlockBytes)),
		)
		return
	}

	logger.Debug("locked memory limit sufficient for key storage")
}
