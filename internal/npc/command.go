package npc

import "github.com/aldenvane/skein/internal/world"

// CommandType names a typed message to the rendering process. The controller
// is the sole authority over NPC movement; the renderer only executes what it
// receives.
type CommandType string

const (
	CmdStop        CommandType = "NPC_STOP"
	CmdMove        CommandType = "NPC_MOVE"
	CmdWander      CommandType = "NPC_WANDER"
	CmdFace        CommandType = "NPC_FACE"
	CmdPatrol      CommandType = "NPC_PATROL"
	CmdFlee        CommandType = "NPC_FLEE"
	CmdStatus      CommandType = "NPC_STATUS"
	CmdUIHighlight CommandType = "UI_HIGHLIGHT"
	CmdUITarget    CommandType = "UI_TARGET"
)

// Command is one typed message to the rendering process.
type Command struct {
	Type   CommandType `json:"type"`
	NPCRef string      `json:"npc_ref,omitempty"`
	Tile   world.Tile  `json:"tile,omitempty"`
	Facing string      `json:"facing,omitempty"`
	Status string      `json:"status,omitempty"`

	// Ref carries the subject of UI_HIGHLIGHT / UI_TARGET commands.
	Ref string `json:"ref,omitempty"`
}

// Sink receives commands for the rendering process.
type Sink interface {
	Send(Command) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Command) error

func (f SinkFunc) Send(c Command) error { return f(c) }
