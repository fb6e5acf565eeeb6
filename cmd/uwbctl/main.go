// uwbctl is the debug CLI for uwbd, talking over its local control socket.
package main

import "github.com/uwbcore/uwbd/cmd/uwbctl/commands"

func main() {
	commands.Execute()
}
