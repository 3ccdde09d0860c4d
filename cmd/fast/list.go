package main

import (
	"flag"
	"fmt"
	"io"
)

type listCommand struct {
	attributes bool
}

func (cmd *listCommand) Name() string {
	return "list"
}

func (cmd *listCommand) Help() string {
	return "Show the list of available process object types"
}

func (cmd *listCommand) Register(fs *flag.FlagSet) {
	fs.BoolVar(&cmd.attributes, "attributes", false, "show attributes of every type")
}

func (cmd *listCommand) Run(w io.Writer) error {
	r, err := newRegistry()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Available types:")
	for _, typ := range r.Types() {
		fmt.Fprintf(w, "\t%s\n", typ)
		if !cmd.attributes {
			continue
		}
		n, err := r.New(typ, typ)
		if err != nil {
			return err
		}
		for _, a := range n.Node().Attributes() {
			fmt.Fprintf(w, "\t\t%s (%s, default %v)\t%s\n", a.ID, a.Type, a.Default, a.Description)
		}
		n.Node().Close()
	}
	return nil
}
