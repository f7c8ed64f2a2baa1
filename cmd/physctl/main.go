// physctl is the operator CLI: replay scenarios offline, diagnose sensor
// series, pseudonymise IDs and inspect a running worker's jobs.
//
// Usage:
//
//	physctl replay -f scenario.yaml [-o json|yaml]
//	physctl diagnose ENERGY 0.8 0.4 0.1
//	physctl pseudonym --key-env ANONYMIZE_KEY alice bob
//	physctl jobs [--addr http://localhost:8080]
//	physctl jobs run entropy_decay --api-key KEY
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
