package correlate

import (
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/kryptco/commcore/channel"
)

//	registryKey is the tagged variant spec.md §9 calls for: a Thread
//	Registry key is either a channel identity or a message id, and the
//	two spaces must never collide. byChannel disambiguates which arm is
//	set; Go has no native union type, so the tag is explicit rather than
//	inferred from which field is non-zero.
type registryKey struct {
	byChannel bool
	channelID uuid.UUID
	messageID int64
}

func channelKey(ch *channel.Channel) registryKey {
	return registryKey{byChannel: true, channelID: ch.ID()}
}

func messageKey(id int64) registryKey {
	return registryKey{byChannel: false, messageID: id}
}

//	ExecutionContext is the opaque per-session state the Thread Registry
//	restores on the goroutine that decodes a response, so correlation
//	continues against the right session regardless of which reactor
//	shard happened to read the bytes (spec.md §4.3, §9 "execution
//	context"). Defined here, not in package commcore, since only the
//	registry's callers need to agree on its shape and it carries no
//	Communication Core semantics of its own.
type ExecutionContext interface{}

//	Registry is one side (request or response) of the Thread Registry
//	(C4). spec.md §4.3 calls for two independently-instantiated
//	registries of identical shape; Registry is that shape, instantiated
//	twice by the caller (see NewRegistryPair).
type Registry struct {
	mu       sync.Mutex
	contexts map[registryKey]ExecutionContext
}

func newRegistry() *Registry {
	return &Registry{contexts: make(map[registryKey]ExecutionContext)}
}

//	RegistryPair is the request-side/response-side pair spec.md §4.3
//	describes as sharing "one registry instance internally via a tagged
//	variant" — here realized as two independent Registry values with the
//	same key shape, which is equivalent and avoids a shared map guarded
//	by two unrelated call sites.
type RegistryPair struct {
	Request  *Registry
	Response *Registry
}

func NewRegistryPair() *RegistryPair {
	return &RegistryPair{Request: newRegistry(), Response: newRegistry()}
}

//	AddThreadByChannel registers ctx under ch's identity.
func (r *Registry) AddThreadByChannel(ch *channel.Channel, ctx ExecutionContext) {
	r.mu.Lock()
	r.contexts[channelKey(ch)] = ctx
	r.mu.Unlock()
}

//	AddThreadByMessage registers ctx under a message id.
func (r *Registry) AddThreadByMessage(id int64, ctx ExecutionContext) {
	r.mu.Lock()
	r.contexts[messageKey(id)] = ctx
	r.mu.Unlock()
}

//	GetThreadByChannel returns the execution context registered for ch,
//	if any.
func (r *Registry) GetThreadByChannel(ch *channel.Channel) (ExecutionContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.contexts[channelKey(ch)]
	return ctx, ok
}

//	GetThreadByMessage returns the execution context registered for a
//	message id, if any.
func (r *Registry) GetThreadByMessage(id int64) (ExecutionContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.contexts[messageKey(id)]
	return ctx, ok
}

//	RemoveThreadByChannel forgets ch's registration, if any.
func (r *Registry) RemoveThreadByChannel(ch *channel.Channel) {
	r.mu.Lock()
	delete(r.contexts, channelKey(ch))
	r.mu.Unlock()
}

//	RemoveThreadByMessage forgets a message id's registration, if any.
func (r *Registry) RemoveThreadByMessage(id int64) {
	r.mu.Lock()
	delete(r.contexts, messageKey(id))
	r.mu.Unlock()
}

//	Len reports the number of live registrations, for tests and the
//	admin status surface.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}
