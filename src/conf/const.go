// Package conf contains the constants that are used across packages for configuring
// versions, limits, and the lvm.toml run configuration.
package conf

import (
	"fmt"
	"time"
)

const (
	// LUASIGNATURE is the magic that starts every precompiled lua chunk.
	LUASIGNATURE = "\x1bLua"
	// LUAVERSION is the version of the lua bytecode this vm runs.
	LUAVERSION = "Lua 5.1"
	// LUAVERSIONBYTE is the version byte in a chunk header.
	LUAVERSIONBYTE = 0x51
	// LUAFORMAT is the official chunk format byte.
	LUAFORMAT = 0
	// LVMVERSION is the version of the lvm application.
	LVMVERSION = "lvm 0.1.0"
	// MAXINSTRUCTIONS is the default ceiling on instructions executed per chunk.
	MAXINSTRUCTIONS = 10_000_000
	// MAXCALLDEPTH is the default ceiling on nested calls.
	MAXCALLDEPTH = 200
	// BACKLOGSIZE is how many executed instructions are kept for error reports.
	BACKLOGSIZE = 80
	// MAXREGISTERS is the widest register file an instruction can address.
	MAXREGISTERS = 250
	// MAXUPVALUES max allowed upvals referred in a fn scope.
	MAXUPVALUES = 60
	// CANCELCHECK is how many instructions run between context checks.
	CANCELCHECK = 1024
)

// FullVersion returns the version and copyright.
func FullVersion() string {
	return fmt.Sprintf("%v (%v) Copyright (C) %v", LVMVERSION, LUAVERSION, time.Now().Year())
}

// Copyright is the copyright to be written out in the CLI.
func Copyright() string {
	return fmt.Sprintf("Copyright (C) %v", time.Now().Year())
}
