//go:build prod

package build

import "time"

// Overridden at link time with -ldflags "-X github.com/bronystylecrazy/reminder/build.Version=...".
var Name = "reminder"
var Version = "v0.0.0-production"
var BuildDate = time.Now().Format("2006-01-02 15:04:05")
var Commit = "unknown"
var Mode = ModeProduction
