// Command casterd runs the caster daemon in the foreground. It is the
// systemd-friendly entry point; `caster start` launches the same daemon
// loop as a detached child process instead.
package main

import (
	"context"
	"log"

	"caster/internal/config"
	"caster/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg); err != nil {
		log.Fatalf("run daemon: %v", err)
	}
}
