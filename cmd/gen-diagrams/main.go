// gen-diagrams renders workflow spec files as Mermaid flowcharts.
// Run: go run ./cmd/gen-diagrams examples/workflows/*.json
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/lotwise/driveline/internal/diagram"
	"github.com/lotwise/driveline/pkg/schema"
)

func main() {
	paths := os.Args[1:]
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, `usage: gen-diagrams <spec.json> [spec.json ...]   ("-" reads stdin)`)
		os.Exit(2)
	}

	for _, path := range paths {
		spec, err := readSpec(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			os.Exit(1)
		}
		if len(paths) > 1 {
			fmt.Printf("%%%% === %s ===\n", path)
		}
		fmt.Println(diagram.RenderMermaid(diagram.BuildSpec(spec)))
	}
}

func readSpec(path string) (*schema.WorkflowSpec, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	var spec schema.WorkflowSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("decode workflow spec: %w", err)
	}
	return &spec, nil
}
