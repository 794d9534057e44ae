// Command constat-verify checks an exported evidence chain offline.
//
// Usage:
//
//	constat-verify -file export.json          # human-readable verdict
//	constat-verify -file export.json -json    # machine-readable verdict
//
// Exit code 0 when the chain is intact, 2 when it is broken, 1 on I/O or
// decode errors. The export file is self-contained; no server is needed.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/hazyhaar/constat/greffe"
)

func main() {
	file := flag.String("file", "", "path to an exported chain JSON file")
	asJSON := flag.Bool("json", false, "print the verification result as JSON")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: constat-verify -file export.json [-json]")
		os.Exit(1)
	}

	res, err := greffe.VerifyFile(*file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *asJSON {
		if err := json.NewEncoder(os.Stdout).Encode(res); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	} else {
		fmt.Println(res)
	}

	if !res.Valid {
		os.Exit(2)
	}
}
