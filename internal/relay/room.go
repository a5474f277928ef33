package relay

import "time"

// Room is the membership set for one room code. Rooms only live inside the
// Hub goroutine and are deleted as soon as the last member leaves.
type Room struct {
	ID        string
	CreatedAt time.Time

	// members in join order, keyed by endpoint id
	members map[string]*Client
	order   []string
}

func newRoom(id string) *Room {
	return &Room{
		ID:        id,
		CreatedAt: time.Now(),
		members:   make(map[string]*Client),
	}
}

// Has reports whether the endpoint is a member.
func (r *Room) Has(id string) bool {
	_, ok := r.members[id]
	return ok
}

// Len returns the number of members.
func (r *Room) Len() int {
	return len(r.members)
}

// Members returns the member ids in join order.
func (r *Room) Members() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Room) add(c *Client) {
	if r.Has(c.ID) {
		return
	}
	r.members[c.ID] = c
	r.order = append(r.order, c.ID)
}

func (r *Room) remove(id string) {
	if !r.Has(id) {
		return
	}
	delete(r.members, id)
	for i, m := range r.order {
		if m == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// others returns every member except the given endpoint, in join order.
func (r *Room) others(id string) []*Client {
	out := make([]*Client, 0, len(r.order))
	for _, m := range r.order {
		if m != id {
			out = append(out, r.members[m])
		}
	}
	return out
}
