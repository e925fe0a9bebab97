package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/automatabms/corefabric/internal/types"
)

// rosterFile is the on-disk shape of the equipment roster: one entry
// per location, each with its equipment list and optional lead-lag
// group definitions.
type rosterFile struct {
	Locations []struct {
		LocationID string             `yaml:"locationId"`
		Equipment  []types.Equipment  `yaml:"equipment"`
		LeadLag    []leadLagGroupSpec `yaml:"leadLagGroups,omitempty"`
	} `yaml:"locations"`
}

type leadLagGroupSpec struct {
	GroupID string   `yaml:"groupId"`
	Members []string `yaml:"members"`
}

// Roster is the parsed, location-indexed equipment roster used by C6
// and C9 to know what to tick/enqueue.
type Roster struct {
	Locations   []string
	Equipment   map[string][]types.Equipment // locationId -> equipment
	LeadLag     []types.LeadLagGroup
}

// LoadRoster reads and parses the YAML equipment-roster file at path.
// The roster is owned and edited outside the core; this is a read-only
// load at startup (refreshed on the equipmentList cache TTL by C1/C2
// callers, not by re-reading this file).
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read roster file: %w", err)
	}

	var rf rosterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("config: parse roster file: %w", err)
	}

	r := &Roster{
		Equipment: make(map[string][]types.Equipment),
	}
	for _, loc := range rf.Locations {
		r.Locations = append(r.Locations, loc.LocationID)
		for i := range loc.Equipment {
			loc.Equipment[i].LocationID = loc.LocationID
		}
		r.Equipment[loc.LocationID] = loc.Equipment
		for _, g := range loc.LeadLag {
			lead := ""
			if len(g.Members) > 0 {
				lead = g.Members[0]
			}
			r.LeadLag = append(r.LeadLag, types.LeadLagGroup{
				GroupID:         g.GroupID,
				Members:         g.Members,
				LeadEquipmentID: lead,
				FailoverState:   types.FailoverNone,
			})
		}
	}
	return r, nil
}

// AllEquipment flattens the roster across all locations, used by the
// batch enqueuer (C9).
func (r *Roster) AllEquipment() []types.Equipment {
	var out []types.Equipment
	for _, loc := range r.Locations {
		out = append(out, r.Equipment[loc]...)
	}
	return out
}

// Lookup finds the roster entry for equipmentID, used by the HTTP
// surface (§6) to resolve an equipment id to its location and type
// before touching the state store or job queue.
func (r *Roster) Lookup(equipmentID string) (types.Equipment, bool) {
	for _, loc := range r.Locations {
		for _, eq := range r.Equipment[loc] {
			if eq.EquipmentID == equipmentID {
				return eq, true
			}
		}
	}
	return types.Equipment{}, false
}
