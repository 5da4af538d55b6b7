// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration.
//
// Values are resolved with the precedence ENV > file > defaults. The file is
// YAML and parsed strictly; environment variables use the CAMVISOR_ prefix.
// Devices can only be declared in the file. A Holder keeps the active
// configuration and reloads it when the file changes.
package config
