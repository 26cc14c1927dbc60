package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/Daedalus/pkg/nodes"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the built-in node types and their fields",
	RunE:  runNodes,
}

func runNodes(cmd *cobra.Command, _ []string) error {
	f := nodes.DefaultFactory()
	out := cmd.OutOrStdout()
	for _, typ := range f.RegisteredTypes() {
		n, shape, err := f.Create(typ)
		if err != nil {
			return err
		}
		var fields []string
		for _, spec := range n.Fields() {
			name := spec.Name
			if spec.Mandatory {
				name += "*"
			}
			fields = append(fields, name)
		}
		fmt.Fprintf(out, "%-22s %-10s %s\n", typ, shape, strings.Join(fields, ", "))
	}
	return nil
}
