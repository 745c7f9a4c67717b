//go:build windows

package main

import "golang.org/x/sys/windows"

const semNoGPFaultErrorBox = 0x0002

var procSetErrorMode = windows.NewLazySystemDLL("kernel32.dll").NewProc("SetErrorMode")

// disableErrorDialogs keeps a crashing child from blocking on a fault
// dialog nobody can see.
func disableErrorDialogs() {
	previous, _, _ := procSetErrorMode.Call(semNoGPFaultErrorBox)
	procSetErrorMode.Call(previous | semNoGPFaultErrorBox)
}
