// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the AxonFlow task router service.
package main

import (
	"fmt"
	"log"
	"os"

	"axonflow/taskrouter/config"
	"axonflow/taskrouter/gateway"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "example-config" {
		fmt.Print(config.Example())
		return
	}

	if err := gateway.Run(); err != nil {
		log.Fatalf("taskrouter: %v", err)
	}
}
