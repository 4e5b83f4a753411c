package querydesc

// TrackedSessions returns the number of sessions holding a lock or subscribers.
func (svc *Service) TrackedSessions() (locks, subs int) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return len(svc.locks), len(svc.subs)
}
