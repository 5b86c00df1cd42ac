package obsync

// Hooks defines event callbacks for cache and sync operations. Hooks run
// synchronously on the triggering goroutine and must not block.
type Hooks struct {
	// OnHit is called when a read finds a servable entry
	OnHit []OnHitHook

	// OnMiss is called when a read finds nothing servable
	OnMiss []OnMissHook

	// OnSet is called after a confirmed value is written
	OnSet []OnSetHook

	// OnInvalidate is called per key removed by invalidation or delete
	OnInvalidate []OnInvalidateHook

	// OnOptimisticApply is called when an optimistic value is written
	OnOptimisticApply []OnOptimisticApplyHook

	// OnRollback is called when a mutation's snapshot is restored.
	// restored is false when a newer write made the rollback a no-op.
	OnRollback []OnRollbackHook

	// OnQueueDrop is called when a queued mutation is dropped for good
	OnQueueDrop []OnQueueDropHook
}

// Hook function type definitions
type (
	// OnHitHook is called on a cache hit
	OnHitHook func(key string, value any, state State)

	// OnMissHook is called on a cache miss
	OnMissHook func(key string)

	// OnSetHook is called after a confirmed write
	OnSetHook func(key string, value any)

	// OnInvalidateHook is called per invalidated key
	OnInvalidateHook func(key string)

	// OnOptimisticApplyHook is called after an optimistic write
	OnOptimisticApplyHook func(key string, value any)

	// OnRollbackHook is called when a rollback runs
	OnRollbackHook func(key string, restored bool)

	// OnQueueDropHook is called when a queue item is permanently dropped
	OnQueueDropHook func(item *QueueItem, err error)
)

// AddOnHit adds an OnHit hook.
func (h *Hooks) AddOnHit(hook OnHitHook) {
	h.OnHit = append(h.OnHit, hook)
}

// AddOnMiss adds an OnMiss hook.
func (h *Hooks) AddOnMiss(hook OnMissHook) {
	h.OnMiss = append(h.OnMiss, hook)
}

// AddOnSet adds an OnSet hook.
func (h *Hooks) AddOnSet(hook OnSetHook) {
	h.OnSet = append(h.OnSet, hook)
}

// AddOnInvalidate adds an OnInvalidate hook.
func (h *Hooks) AddOnInvalidate(hook OnInvalidateHook) {
	h.OnInvalidate = append(h.OnInvalidate, hook)
}

// AddOnOptimisticApply adds an OnOptimisticApply hook.
func (h *Hooks) AddOnOptimisticApply(hook OnOptimisticApplyHook) {
	h.OnOptimisticApply = append(h.OnOptimisticApply, hook)
}

// AddOnRollback adds an OnRollback hook.
func (h *Hooks) AddOnRollback(hook OnRollbackHook) {
	h.OnRollback = append(h.OnRollback, hook)
}

// AddOnQueueDrop adds an OnQueueDrop hook.
func (h *Hooks) AddOnQueueDrop(hook OnQueueDropHook) {
	h.OnQueueDrop = append(h.OnQueueDrop, hook)
}

func (h *Hooks) invokeOnHit(key string, value any, state State) {
	for _, hook := range h.OnHit {
		if hook != nil {
			hook(key, value, state)
		}
	}
}

func (h *Hooks) invokeOnMiss(key string) {
	for _, hook := range h.OnMiss {
		if hook != nil {
			hook(key)
		}
	}
}

func (h *Hooks) invokeOnSet(key string, value any) {
	for _, hook := range h.OnSet {
		if hook != nil {
			hook(key, value)
		}
	}
}

func (h *Hooks) invokeOnInvalidate(key string) {
	for _, hook := range h.OnInvalidate {
		if hook != nil {
			hook(key)
		}
	}
}

func (h *Hooks) invokeOnOptimisticApply(key string, value any) {
	for _, hook := range h.OnOptimisticApply {
		if hook != nil {
			hook(key, value)
		}
	}
}

func (h *Hooks) invokeOnRollback(key string, restored bool) {
	for _, hook := range h.OnRollback {
		if hook != nil {
			hook(key, restored)
		}
	}
}

func (h *Hooks) invokeOnQueueDrop(item *QueueItem, err error) {
	for _, hook := range h.OnQueueDrop {
		if hook != nil {
			hook(item, err)
		}
	}
}
