//go:build !darwin

package main

func runTray() {}
