// Package lvm is a virtual machine for precompiled lua 5.1 chunks, the files
// that `luac` writes. It loads each chunk, runs its main function on a shared
// runtime so that globals carry over from one chunk to the next, and reports
// faults with the trailing instructions that led up to them.
//
//	`lvm` does not parse lua source, chunks have to be compiled with the
//	reference `luac` first. Several opcodes and most of the string and math
//	libraries are left unimplemented, they fault with ErrUnsupported and can be
//	supplied by the host with VM.Extend and VM.Register.
//
// The Runner is the simplest way in, it takes files or directories and runs
// every chunk it finds in order.
package lvm
