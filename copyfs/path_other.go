// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

//go:build !windows

package copyfs

// osLocalize validates that path (already slash-separated and fs.FS-clean)
// contains nothing an OS other than Windows would treat specially; no
// translation is needed since "/" is already the native separator.
func osLocalize(path string) (string, error) {
	for i := 0; i < len(path); i++ {
		if path[i] == 0 {
			return "", errInvalidPath
		}
	}
	return path, nil
}
