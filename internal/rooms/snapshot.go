package rooms

// ApprovedEntry is one approved participant in a snapshot.
type ApprovedEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Mic  bool   `json:"mic"`
	Cam  bool   `json:"cam"`
}

// WaitingEntry is one waiting participant in a snapshot.
type WaitingEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoomSnapshot is the complete projection of a room's membership, in join
// order. It is the only authoritative membership message clients receive;
// every other notification is a hint that a fresher snapshot is coming.
type RoomSnapshot struct {
	RoomID   string          `json:"roomId"`
	HostID   string          `json:"hostId,omitempty"`
	Approved []ApprovedEntry `json:"approved"`
	Waiting  []WaitingEntry  `json:"waiting"`
}

// Snapshot projects the room's current membership. ok=false when the room
// does not exist (snapshots never create rooms).
func (r *Registry) Snapshot(roomID string) (*RoomSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}

	snap := &RoomSnapshot{
		RoomID:   roomID,
		HostID:   rm.hostID,
		Approved: make([]ApprovedEntry, 0, len(rm.approvedOrder)),
		Waiting:  make([]WaitingEntry, 0, len(rm.waitingOrder)),
	}
	for _, id := range rm.approvedOrder {
		a := rm.approved[id]
		snap.Approved = append(snap.Approved, ApprovedEntry{
			ID:   id,
			Name: a.Name,
			Mic:  a.MicOn,
			Cam:  a.CamOn,
		})
	}
	for _, id := range rm.waitingOrder {
		snap.Waiting = append(snap.Waiting, WaitingEntry{ID: id, Name: rm.waiting[id].Name})
	}
	return snap, true
}
