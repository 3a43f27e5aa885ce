// cmd/preflight/main.go
package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	admin := strings.TrimSpace(os.Getenv("ADMIN_API_KEYS"))
	pub := strings.TrimSpace(os.Getenv("PUBLIC_API_KEYS"))
	apiAddr := strings.TrimSpace(os.Getenv("ADDR"))
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	sqlitePath := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	pauseFile := strings.TrimSpace(os.Getenv("PAUSE_FILE"))
	webhook := strings.TrimSpace(os.Getenv("WEBHOOK_URL"))

	if admin == "" {
		fail("ADMIN_API_KEYS is empty (admin routes will 403).")
	}
	if pub == "" {
		fail("PUBLIC_API_KEYS is empty (public routes will 401).")
	}

	// Normalize and sanity-check lists (no spaces around commas).
	for name, v := range map[string]string{"ADMIN_API_KEYS": admin, "PUBLIC_API_KEYS": pub} {
		if strings.Contains(v, " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	if apiAddr == "" {
		warn("ADDR is empty; default in your app may be used.")
	} else {
		ok("ADDR=" + apiAddr)
	}

	if db == "" {
		if sqlitePath == "" {
			warn("DATABASE_URL and SQLITE_PATH empty — sqlite will use the default data path.")
		} else {
			ok("SQLITE_PATH=" + sqlitePath)
		}
	} else {
		ok("DATABASE_URL present")
	}

	if pauseFile == "" {
		pauseFile = "data/EMERGENCY_PAUSE"
	}
	if _, err := os.Stat(pauseFile); err == nil {
		warn("pause marker " + pauseFile + " exists — the scheduler will not dispatch probes.")
	}

	if webhook == "" {
		warn("WEBHOOK_URL empty — failed-charge notifications are disabled.")
	} else {
		ok("WEBHOOK_URL present")
	}

	ok("preflight passed")
}
