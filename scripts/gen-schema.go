//go:build ignore

package main

import (
	"fmt"
	"os"

	"github.com/ormasoftchile/stepflow/pkg/config"
	"github.com/ormasoftchile/stepflow/pkg/schema"
)

func main() {
	write("schemas/flow-v0.json", schema.GenerateFlowJSONSchema)
	write("schemas/module-v0.json", schema.GenerateModuleJSONSchema)
	write("schemas/config-v0.json", config.GenerateJSONSchema)
}

func write(path string, gen func() ([]byte, error)) {
	data, err := gen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote " + path)
}
