// Command qrbatch serves the QR batch generator and carries a few
// maintenance subcommands.
package main

import "os"

func main() {
	cmd, args := resolveCommand(os.Args[1:], defaultCommandDeps())
	os.Exit(cmd.Run(args))
}
