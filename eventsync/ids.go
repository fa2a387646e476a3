// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package eventsync

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID generates a client-side identifier: unix-millis timestamp plus a
// random suffix. Ids are minted locally so a record can be displayed
// optimistically without waiting for a server round-trip, and the timestamp
// prefix keeps ids roughly sortable by creation time for debugging.
func NewID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}
