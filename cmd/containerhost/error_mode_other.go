//go:build !windows

package main

func disableErrorDialogs() {}
