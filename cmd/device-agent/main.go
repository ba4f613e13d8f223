package main

import (
	"github.com/loranode/lorawan-device-agent/cmd/device-agent/cmd"
)

var version string // set by the compiler

func main() {
	cmd.Execute(version)
}
