// ruidactl is a command-line tool for working with laser controllers: it
// decodes captured job files, probes their swizzle key, sends jobs to a
// machine, and runs a software controller for development without hardware.
package main

func main() {
	execute()
}
