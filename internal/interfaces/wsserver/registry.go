package wsserver

import "sync"

// Sink receives outbound frames. Implementations must be safe for
// concurrent delivery; broadcasts arrive from other sessions' workers.
type Sink interface {
	Deliver(frame OutboundFrame)
}

// Registry tracks live sessions by user and by conversation. It is an
// interface so a distributed backend can replace the in-process
// implementation without touching the session loop.
type Registry interface {
	Attach(sink Sink, userID string)
	// Detach removes the sink from every index it was inserted into,
	// including all conversation memberships.
	Detach(sink Sink)
	JoinConversation(sink Sink, conversationID string)
	// SendToUser and BroadcastToConversation are best-effort; unknown
	// targets are silent no-ops.
	SendToUser(userID string, frame OutboundFrame)
	BroadcastToConversation(conversationID string, frame OutboundFrame)
}

type membership struct {
	userID        string
	conversations map[string]struct{}
}

// memoryRegistry is the single-process Registry. All state lives in
// process memory; sessions on other instances are invisible.
type memoryRegistry struct {
	mu             sync.RWMutex
	sessions       map[Sink]*membership
	byUser         map[string]map[Sink]struct{}
	byConversation map[string]map[Sink]struct{}
}

// NewRegistry creates the in-memory Registry.
func NewRegistry() Registry {
	return &memoryRegistry{
		sessions:       make(map[Sink]*membership),
		byUser:         make(map[string]map[Sink]struct{}),
		byConversation: make(map[string]map[Sink]struct{}),
	}
}

func (r *memoryRegistry) Attach(sink Sink, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sink] = &membership{
		userID:        userID,
		conversations: make(map[string]struct{}),
	}
	if userID != "" {
		if r.byUser[userID] == nil {
			r.byUser[userID] = make(map[Sink]struct{})
		}
		r.byUser[userID][sink] = struct{}{}
	}
}

func (r *memoryRegistry) Detach(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	member, ok := r.sessions[sink]
	if !ok {
		return
	}
	delete(r.sessions, sink)

	if member.userID != "" {
		if sinks := r.byUser[member.userID]; sinks != nil {
			delete(sinks, sink)
			if len(sinks) == 0 {
				delete(r.byUser, member.userID)
			}
		}
	}
	for conversationID := range member.conversations {
		if sinks := r.byConversation[conversationID]; sinks != nil {
			delete(sinks, sink)
			if len(sinks) == 0 {
				delete(r.byConversation, conversationID)
			}
		}
	}
}

func (r *memoryRegistry) JoinConversation(sink Sink, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	member, ok := r.sessions[sink]
	if !ok {
		return
	}
	member.conversations[conversationID] = struct{}{}
	if r.byConversation[conversationID] == nil {
		r.byConversation[conversationID] = make(map[Sink]struct{})
	}
	r.byConversation[conversationID][sink] = struct{}{}
}

func (r *memoryRegistry) SendToUser(userID string, frame OutboundFrame) {
	for _, sink := range r.snapshot(r.byUser, userID) {
		sink.Deliver(frame)
	}
}

func (r *memoryRegistry) BroadcastToConversation(conversationID string, frame OutboundFrame) {
	for _, sink := range r.snapshot(r.byConversation, conversationID) {
		sink.Deliver(frame)
	}
}

// snapshot copies the target set under the read lock so delivery happens
// without holding it.
func (r *memoryRegistry) snapshot(index map[string]map[Sink]struct{}, key string) []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sinks := make([]Sink, 0, len(index[key]))
	for sink := range index[key] {
		sinks = append(sinks, sink)
	}
	return sinks
}
