// plexus is the training CLI: validate run definitions, train agents on
// synthetic experience, sample policy actions, and inspect stored runs.
//
// Usage:
//
//	plexus validate --demo cartpole
//	plexus train --demo cartpole --steps 50
//	plexus act --demo pendulum -n 5
//	plexus runs --losses 10
package main

func main() {
	Execute()
}
