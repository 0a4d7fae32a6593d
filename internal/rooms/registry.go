// Package rooms holds the authoritative membership state for every meeting
// room: who hosts it, who is approved, and who is still waiting for the
// host's decision. All mutation goes through Registry methods so the
// invariants (host is approved, approved and waiting are disjoint, empty
// rooms are deleted) are enforced in one place.
package rooms

import (
	"strings"
	"sync"
)

const defaultName = "Guest"

// Approved is a participant admitted to the meeting.
type Approved struct {
	Name  string
	MicOn bool
	CamOn bool
}

// Waiting is a participant whose join request has not been decided yet.
type Waiting struct {
	Name string
}

type room struct {
	hostID   string
	approved map[string]*Approved
	waiting  map[string]*Waiting

	// Join order, used for snapshots and for deterministic host succession.
	approvedOrder []string
	waitingOrder  []string
}

// Registry is the room table. A single mutex serializes every mutation,
// which gives each room the mutation+snapshot atomicity the broadcaster
// relies on. Nothing under the lock touches the network.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// JoinRole is the outcome of a join request.
type JoinRole int

const (
	// RoleHost means the requester entered an empty room and became its host.
	RoleHost JoinRole = iota
	// RoleWaiting means the requester was queued for host approval.
	RoleWaiting
)

// RequestJoin admits the requester as host of an empty room, or queues them
// for approval otherwise. Returns ok=false when roomID or requesterID is
// empty, or when the requester is already present in the room.
func (r *Registry) RequestJoin(roomID, requesterID, name string) (JoinRole, bool) {
	if roomID == "" || requesterID == "" {
		return 0, false
	}
	name = normalizeName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{
			approved: make(map[string]*Approved),
			waiting:  make(map[string]*Waiting),
		}
		r.rooms[roomID] = rm
	}

	if _, dup := rm.approved[requesterID]; dup {
		return 0, false
	}
	if _, dup := rm.waiting[requesterID]; dup {
		return 0, false
	}

	if rm.hostID == "" {
		rm.hostID = requesterID
		rm.approved[requesterID] = &Approved{Name: name}
		rm.approvedOrder = append(rm.approvedOrder, requesterID)
		return RoleHost, true
	}

	rm.waiting[requesterID] = &Waiting{Name: name}
	rm.waitingOrder = append(rm.waitingOrder, requesterID)
	return RoleWaiting, true
}

// Approve promotes a waiting participant. Only the current host may call it;
// anything else is a silent no-op and ok=false. Returns the participant's
// name for the join announcement.
func (r *Registry) Approve(roomID, callerID, targetID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok || rm.hostID != callerID {
		return "", false
	}
	w, ok := rm.waiting[targetID]
	if !ok {
		return "", false
	}

	delete(rm.waiting, targetID)
	rm.waitingOrder = removeID(rm.waitingOrder, targetID)
	rm.approved[targetID] = &Approved{Name: w.Name}
	rm.approvedOrder = append(rm.approvedOrder, targetID)
	return w.Name, true
}

// Reject drops a waiting participant. Host-only; silent no-op otherwise.
// The caller is responsible for closing the rejected connection.
func (r *Registry) Reject(roomID, callerID, targetID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok || rm.hostID != callerID {
		return false
	}
	if _, ok := rm.waiting[targetID]; !ok {
		return false
	}

	delete(rm.waiting, targetID)
	rm.waitingOrder = removeID(rm.waitingOrder, targetID)
	return true
}

// Rename updates the participant's display name wherever they currently sit.
// approvedChanged reports whether the approved roster changed, which is what
// decides if a roster-changed hint goes out.
func (r *Registry) Rename(roomID, participantID, newName string) (approvedChanged, ok bool) {
	newName = normalizeName(newName)

	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return false, false
	}
	if a, inApproved := rm.approved[participantID]; inApproved {
		a.Name = newName
		return true, true
	}
	if w, inWaiting := rm.waiting[participantID]; inWaiting {
		w.Name = newName
		return false, true
	}
	return false, false
}

// SetMediaState overwrites the participant's self-reported mic/cam flags.
// Only approved participants have media state.
func (r *Registry) SetMediaState(roomID, participantID string, mic, cam bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	a, ok := rm.approved[participantID]
	if !ok {
		return false
	}
	a.MicOn = mic
	a.CamOn = cam
	return true
}

// TransferHost hands the host role to another approved participant.
func (r *Registry) TransferHost(roomID, callerID, newHostID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok || rm.hostID != callerID {
		return false
	}
	if _, ok := rm.approved[newHostID]; !ok {
		return false
	}
	rm.hostID = newHostID
	return true
}

// LeaveResult describes what changed when a participant left a room.
type LeaveResult struct {
	WasApproved bool
	WasWaiting  bool
	HostChanged bool
	// NewHostID is set when the departing host was succeeded; empty when the
	// room was left hostless (and therefore deleted).
	NewHostID   string
	RoomDeleted bool
}

// Changed reports whether the departure altered any observable room state.
func (lr LeaveResult) Changed() bool {
	return lr.WasApproved || lr.WasWaiting || lr.HostChanged
}

// Leave removes the participant from the room. A departing host is succeeded
// by the first remaining approved participant in join order; a room left
// with no host, no approved and no waiting participants is deleted.
func (r *Registry) Leave(roomID, participantID string) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return LeaveResult{}, false
	}
	return r.leaveLocked(roomID, rm, participantID), true
}

// RoomLeave pairs a LeaveResult with the room it happened in.
type RoomLeave struct {
	RoomID string
	LeaveResult
}

// LeaveAll applies Leave to every room holding the participant. This is the
// disconnect path: a dropped connection is indistinguishable from an
// explicit leave.
func (r *Registry) LeaveAll(participantID string) []RoomLeave {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []RoomLeave
	for roomID, rm := range r.rooms {
		res := r.leaveLocked(roomID, rm, participantID)
		if res.Changed() {
			out = append(out, RoomLeave{RoomID: roomID, LeaveResult: res})
		}
	}
	return out
}

func (r *Registry) leaveLocked(roomID string, rm *room, participantID string) LeaveResult {
	var res LeaveResult

	if _, ok := rm.waiting[participantID]; ok {
		delete(rm.waiting, participantID)
		rm.waitingOrder = removeID(rm.waitingOrder, participantID)
		res.WasWaiting = true
	}
	if _, ok := rm.approved[participantID]; ok {
		delete(rm.approved, participantID)
		rm.approvedOrder = removeID(rm.approvedOrder, participantID)
		res.WasApproved = true
	}

	if rm.hostID == participantID {
		res.HostChanged = true
		if len(rm.approvedOrder) > 0 {
			rm.hostID = rm.approvedOrder[0]
			res.NewHostID = rm.hostID
		} else {
			rm.hostID = ""
		}
	}

	if rm.hostID == "" && len(rm.approved) == 0 && len(rm.waiting) == 0 {
		delete(r.rooms, roomID)
		res.RoomDeleted = true
	}
	return res
}

// IsApproved reports whether the participant is an approved member of the
// room. The relay uses it to gate both ends of every forwarded payload.
func (r *Registry) IsApproved(roomID, participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = rm.approved[participantID]
	return ok
}

// ApprovedName returns the display name of an approved participant.
func (r *Registry) ApprovedName(roomID, participantID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return "", false
	}
	a, ok := rm.approved[participantID]
	if !ok {
		return "", false
	}
	return a.Name, true
}

// HostID returns the current host of the room, if any.
func (r *Registry) HostID(roomID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok || rm.hostID == "" {
		return "", false
	}
	return rm.hostID, true
}

// RoomExists reports whether the room is present in the registry.
func (r *Registry) RoomExists(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	return ok
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultName
	}
	return name
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
