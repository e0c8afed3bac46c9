// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build !linux && !darwin

package keys

import "log/slog"

// CheckLockedMemory is a no-op on platforms without RLIMIT_MEMLOCK.
func CheckLockedMemory(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("locked memory limit check not supported on this platform")
}
