// etcctl is the command-line client for the etcd control plane.
package main

import "github.com/dantte-lp/etcmesh/cmd/etcctl/commands"

func main() {
	commands.Execute()
}
