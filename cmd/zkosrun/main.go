// Command zkosrun drives one batch through the engine in native forward
// mode: it loads a JSON fixture describing block metadata, account/storage
// witnesses, preimages, and raw transaction blobs into a HostOracle, runs
// the bootloader to seal, and prints the per-tx receipts plus the public
// input commitment.
//
// Usage:
//
//	zkosrun -fixture batch.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/zkrollup/zkos/bootloader"
	"github.com/zkrollup/zkos/config"
	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/oracle"
)

var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	fs := flag.NewFlagSet("zkosrun", flag.ContinueOnError)
	fixturePath := fs.String("fixture", "", "path to a JSON batch fixture")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Printf("zkosrun %s (commit %s)\n", version, commit)
		return 0
	}
	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "zkosrun: -fixture is required")
		return 2
	}

	raw, err := os.ReadFile(*fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zkosrun: reading fixture: %v\n", err)
		return 1
	}
	var f fixture
	if err := json.Unmarshal(raw, &f); err != nil {
		fmt.Fprintf(os.Stderr, "zkosrun: parsing fixture: %v\n", err)
		return 1
	}

	o, err := f.buildOracle()
	if err != nil {
		fmt.Fprintf(os.Stderr, "zkosrun: building oracle: %v\n", err)
		return 1
	}

	bl := bootloader.New(o, config.Default())
	result, err := bl.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "zkosrun: batch run failed: %v\n", err)
		return 1
	}

	for i, r := range result.Receipts {
		fmt.Printf("tx %d: hash=%s dropped=%v success=%v gasUsed=%d gasRefunded=%d logs=%d\n",
			i, r.TxHash.Hex(), r.Dropped, r.Success, r.GasUsed, r.GasRefunded, len(r.Logs))
		if r.DeployedTo != (types.Address{}) {
			fmt.Printf("        deployed to %s\n", r.DeployedTo.Hex())
		}
	}
	fmt.Printf("pubdata bytes: %d\n", result.PubdataBytes)
	fmt.Printf("public input:  %x\n", result.PublicInput)
	return 0
}
