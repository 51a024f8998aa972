// Command pintosim boots the simulated kernel described in cmd/root.go.
package main

import "github.com/mlj-hub/pintosim/cmd"

func main() {
	cmd.Execute()
}
