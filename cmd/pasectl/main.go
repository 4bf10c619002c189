// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

// Command pasectl is the operator CLI for the PaSe daemon.
//
// Most commands talk to a running pased instance over its HTTP API;
// `pasectl serve` runs the daemon in-process and `pasectl archive push`
// operates directly on the local stores.
//
// Usage:
//
//	pasectl init                          # interactive setup wizard
//	pasectl store add fix.patch --producer me --origin file:///tmp/fix.patch
//	pasectl pool sync --collection tumbleweed --wait
//	pasectl index build --wait
//	pasectl match fix.patch
//	pasectl validate fix.patch --collection tumbleweed --package bash
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
