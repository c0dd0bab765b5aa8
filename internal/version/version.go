/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

// Version is the current version of PlayRadio.
// This is set at build time via ldflags:
//
//	-X github.com/dusanmitrovic98/play-radio-tts/internal/version.Version=X.Y.Z
var Version = "0.1.0"
