// Package scenario holds the built-in scenarios. Importing it (usually for
// side effects) registers them with sim.RegisterScenario.
package scenario

import "github.com/inference-sim/agentsim/sim"

func init() {
	sim.RegisterScenario("counter", NewCounter)
	sim.RegisterScenario("gossip", NewGossip)
}
