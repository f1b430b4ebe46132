package scenario

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/agentsim/sim"
	"github.com/inference-sim/agentsim/sim/network"
	"github.com/inference-sim/agentsim/sim/state"
)

// InformedKey is both the global count of informed agents and the
// per-agent informed flag.
const InformedKey = "informed"

// Rumour is the payload agents pass on.
const Rumour = "rumour"

// NewGossip wires a rumour-spreading scenario. agent-0 starts informed; every
// informed agent broadcasts the rumour each step and an agent becomes
// informed when it reads any message. The run stops once all agents are
// informed (or at the finish time).
//
// Parameters: agents (default 5), drop (delivery drop probability,
// default 0), block (comma-separated addresses that never receive).
func NewGossip(env *sim.Environment) error {
	params := env.Params()
	n, err := params.Int("agents", 5)
	if err != nil {
		return err
	}
	drop, err := params.Float("drop", 0)
	if err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("agents must be >= 1, got %d", n)
	}

	if drop > 0 {
		rng := env.RNG.ForSubsystem(sim.SubsystemNetwork)
		if err := env.Network.AddConstraint(network.NewDropConstraint(rng, drop)); err != nil {
			return err
		}
	}
	if blocked := splitAddresses(params.String("block", "")); len(blocked) > 0 {
		if err := env.Network.AddConstraint(network.NewBlockConstraint(blocked...)); err != nil {
			return err
		}
	}

	if err := env.State.CreateGlobal(InformedKey, int64(0)); err != nil {
		return err
	}
	for i := int64(0); i < n; i++ {
		addr := network.Address(fmt.Sprintf("agent-%d", i))
		inbox := network.NewStateInbox(env.State, string(addr))
		if err := env.Network.Register(addr, inbox); err != nil {
			return err
		}
		a := &gossipAgent{
			addr:     addr,
			store:    env.State,
			net:      env.Network,
			reader:   network.NewInboxReader(inbox),
			informed: i == 0,
		}
		if err := env.Scheduler.Add(a); err != nil {
			return err
		}
	}
	return env.Scheduler.Add(&gossipMonitor{store: env.State, agents: n})
}

func splitAddresses(s string) []network.Address {
	var out []network.Address
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, network.Address(part))
		}
	}
	return out
}

type gossipAgent struct {
	addr     network.Address
	store    *state.Store
	net      *network.Substrate
	reader   *network.InboxReader
	informed bool
}

func (a *gossipAgent) Name() string { return string(a.addr) }

func (a *gossipAgent) Initialise(context.Context) error {
	if err := a.store.Create(InformedKey, string(a.addr), a.informed); err != nil {
		return err
	}
	if a.informed {
		return a.store.ChangeGlobal(InformedKey, state.Increment(1))
	}
	return nil
}

// PreStep reads messages delivered at the previous commit.
func (a *gossipAgent) PreStep(_ context.Context, step int64) error {
	msgs, err := a.reader.Next()
	if err != nil || a.informed || len(msgs) == 0 {
		return err
	}
	a.informed = true
	logrus.Debugf("gossip: %s informed by %s at step %d", a.addr, msgs[0].From, step)
	if err := a.store.Change(InformedKey, string(a.addr), state.SetValue(true)); err != nil {
		return err
	}
	return a.store.ChangeGlobal(InformedKey, state.Increment(1))
}

func (a *gossipAgent) Step(_ context.Context, step int64) error {
	if !a.informed {
		return nil
	}
	return a.net.Send(network.NewBroadcast(network.Inform, a.addr, step, Rumour))
}

type gossipMonitor struct {
	store  *state.Store
	agents int64
}

func (m *gossipMonitor) Name() string { return "gossip-monitor" }

func (m *gossipMonitor) Finished(context.Context, int64) (bool, error) {
	v, err := state.ReadGlobalAs[int64](m.store, InformedKey)
	if err != nil {
		return false, err
	}
	return v >= m.agents, nil
}
