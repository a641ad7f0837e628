package domain

// Command is a durable write scheduled by the coordinator and applied
// to the room record store out of band.
type Command interface {
	RoomID() RoomID
}

type AddParticipantCommand struct {
	Room     RoomID
	Identity string
}

func (c AddParticipantCommand) RoomID() RoomID { return c.Room }

type RemoveParticipantCommand struct {
	Room     RoomID
	Identity string
}

func (c RemoveParticipantCommand) RoomID() RoomID { return c.Room }

type SetStatusCommand struct {
	Room   RoomID
	Status RoomStatus
}

func (c SetStatusCommand) RoomID() RoomID { return c.Room }

type AppendStoryCommand struct {
	Room RoomID
	Text string
}

func (c AppendStoryCommand) RoomID() RoomID { return c.Room }
