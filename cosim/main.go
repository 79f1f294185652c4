// Command cosim runs the participants of an industrial control system
// co-simulation.
package main

import "github.com/sarchlab/cosim/cosim/cmd"

func main() {
	cmd.Execute()
}
