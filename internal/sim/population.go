// Population generation: spawns the agent roster, shapes skill levels from
// layered noise fields, and binds each agent into a collective role.

package sim

import (
	"fmt"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/crossroads-economy/internal/entropy"
	"github.com/talgya/crossroads-economy/internal/registry"
)

// RoleNames are the skill/role axes every collective registers. Role and
// skill share a name: an agent's fitness for a role is its level in the
// skill of the same name.
var RoleNames = []string{"analyst", "artisan", "coordinator", "scout", "trader"}

// GoodCategories are what agents list on the marketplace, with a base
// worth in tokens.
var GoodCategories = []struct {
	Name  string
	Worth int64
}{
	{"provisions", 4},
	{"tools", 10},
	{"maps", 7},
	{"charms", 12},
	{"services", 6},
}

// Agent is one member of the simulated population. Balances and skills
// live in the ledger and registry; the agent itself is just identity plus
// the bindings the driver chose for it.
type Agent struct {
	ID           string
	Name         string
	CollectiveID string
	Role         string
}

// spawnPopulation creates count agents, writes their skills into the
// registry, and binds each to a role in one of the collectives
// (round-robin). Skill levels blend a smooth noise field over
// (agent, skill) with per-agent jitter, so neighbors in id-space have
// correlated but not identical talents.
func spawnPopulation(seed int64, count, collectives int, reg *registry.Registry, rng entropy.Source) []*Agent {
	skillNoise := opensimplex.NewNormalized(seed + 300)

	agents := make([]*Agent, 0, count)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("agent-%04d", i)
		a := &Agent{
			ID:   id,
			Name: agentName(i, rng),
		}

		// Skill field: smooth over the roster, jittered per agent.
		best, bestLevel := RoleNames[0], -1.0
		for s, skill := range RoleNames {
			level := 0.7*skillNoise.Eval2(float64(i)*0.13, float64(s)*1.7) + 0.3*rng.Float()
			if level > 1 {
				level = 1
			}
			reg.SetSkill(id, skill, level)
			if level > bestLevel {
				best, bestLevel = skill, level
			}
		}
		a.Role = best

		if collectives > 0 {
			a.CollectiveID = fmt.Sprintf("collective-%02d", i%collectives)
			reg.BindRole(a.CollectiveID, id, a.Role)
		}

		agents = append(agents, a)
	}

	// Every collective knows the full role set even when no member holds
	// a role yet; tasks may still require it (and then fail assignment).
	for c := 0; c < collectives; c++ {
		cid := fmt.Sprintf("collective-%02d", c)
		for _, role := range RoleNames {
			reg.RegisterRole(cid, role)
		}
	}

	return agents
}

var givenNames = []string{
	"Aldric", "Bryn", "Cassia", "Doran", "Elswyth", "Fenn", "Gisela",
	"Hadwin", "Isolde", "Joran", "Kestrel", "Lirien", "Maren", "Niall",
	"Orla", "Petran", "Quill", "Rosamund", "Sefton", "Tamsin", "Ulric",
	"Verity", "Wystan", "Yselda",
}

var bynames = []string{
	"the Keen", "of the Ford", "Ashhand", "the Quiet", "Longstride",
	"of the Vale", "Brightledger", "the Patient", "Reedsong", "the Bold",
}

func agentName(i int, rng entropy.Source) string {
	given := givenNames[i%len(givenNames)]
	if rng.Float() < 0.3 {
		return given + " " + bynames[rng.IntN(len(bynames))]
	}
	return given
}
