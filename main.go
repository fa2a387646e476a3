// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("🔄 go-eventsync - Offline-First Event Sync Engine")
	fmt.Println("=================================================")
	fmt.Println()
	fmt.Println("go-eventsync keeps a locally cached set of collaborative event records")
	fmt.Println("consistent with a remote server across unreliable connectivity, with")
	fmt.Println("optimistic mutations, a durable pending-operation queue, and")
	fmt.Println("last-writer-wins conflict resolution by version number.")
	fmt.Println()

	fmt.Println("📚 Packages:")
	fmt.Println()
	fmt.Println("1. 🧠 eventsync/")
	fmt.Println("   The core engine: record store, pending queue, connection manager,")
	fmt.Println("   sync protocol handler, and the event bus the UI subscribes to")
	fmt.Println()
	fmt.Println("2. 🗄️  sqlitekv/")
	fmt.Println("   SQLite-backed durable storage for the pending-operation queue")
	fmt.Println()
	fmt.Println("3. 🌐 wstransport/")
	fmt.Println("   Websocket transport adapter (gorilla/websocket)")
	fmt.Println()

	fmt.Println("▶️  Example:")
	fmt.Println()
	fmt.Println("   📱 Offline demo (examples/offline_demo/)")
	fmt.Println("   Composition-root wiring: queue offline, drain on reconnect")
	fmt.Println("   Run: go run ./examples/offline_demo -url ws://localhost:8080/sync")
	fmt.Println()
}
