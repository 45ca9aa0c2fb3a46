package lock

import (
	"context"
	"strconv"
	"time"
)

// --------------------------------------------------------------------------
// Atomic Operations
// --------------------------------------------------------------------------

// The methods in this file run exactly one script each. They resolve the
// identifier of the caller and keep the identifier cache of the Owner in sync
// with what the store reports.

// ttlNoExpiry and ttlVanished are the special PTTL values of the store
const (
	ttlNoExpiry = -1
	ttlVanished = -2
)

// identifier returns the cached identifier of owner or mints a new one
func (l *DistributedLock) identifier(owner *Owner) (string, bool) {
	if id, ok := owner.Identifier(l.name); ok {
		return id, true
	}
	return formatIdentifier(l.name, l.instanceToken, owner.Token()), false
}

// tryAcquire runs ScriptAcquire once. A lease of 0 acquires without expiry.
func (l *DistributedLock) tryAcquire(ctx context.Context, owner *Owner, leaseMs int64) (bool, error) {
	id, cached := l.identifier(owner)
	res, ok, err := l.gw.Eval(ctx, ScriptAcquire, l.name, id, strconv.FormatInt(leaseMs, 10))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, protocolError(ScriptAcquire, res, ok)
	}

	if res == ResultAcquired {
		owner.remember(l.name, id)
		if leaseMs > 0 {
			l.ttl.Store(leaseMs)
		} else {
			l.ttl.Store(ttlNoExpiry)
		}
		return true, nil
	}

	pttl, perr := strconv.ParseInt(res, 10, 64)
	if perr != nil || pttl < ttlVanished {
		return false, protocolError(ScriptAcquire, res, ok)
	}
	l.ttl.Store(pttl)

	// the record belongs to someone else, so our hold (if any) has expired
	if cached {
		owner.forget(l.name)
	}
	return false, nil
}

// tryRelease runs ScriptRelease once and returns the remaining hold count,
// -1 if owner does not hold the lock.
func (l *DistributedLock) tryRelease(ctx context.Context, owner *Owner) (int64, error) {
	id, cached := l.identifier(owner)
	if !cached {
		return -1, nil
	}
	res, ok, err := l.gw.Eval(ctx, ScriptRelease, l.name, id, l.channel)
	if err != nil {
		return 0, err
	}
	count, err := parseCount(ScriptRelease, res, ok)
	if err != nil {
		return 0, err
	}
	if count < -1 {
		return 0, protocolError(ScriptRelease, res, ok)
	}

	if count <= 0 {
		owner.forget(l.name)
	}
	if count == 0 {
		// a local waiter can retry without the round trip of the notification
		l.queue.Signal()
	}
	return count, nil
}

// tryDelete runs ScriptDelete once
func (l *DistributedLock) tryDelete(ctx context.Context) (bool, error) {
	res, ok, err := l.gw.Eval(ctx, ScriptDelete, l.name)
	if err != nil {
		return false, err
	}
	deleted, err := parseFlag(ScriptDelete, res, ok)
	if deleted {
		l.queue.Signal()
	}
	return deleted, err
}

// exists runs ScriptExists once
func (l *DistributedLock) exists(ctx context.Context) (bool, error) {
	res, ok, err := l.gw.Eval(ctx, ScriptExists, l.name)
	if err != nil {
		return false, err
	}
	return parseFlag(ScriptExists, res, ok)
}

// isMember runs ScriptIsMember once. An owner without identifier is no member.
func (l *DistributedLock) isMember(ctx context.Context, owner *Owner) (bool, error) {
	id, cached := l.identifier(owner)
	if !cached {
		return false, nil
	}
	res, ok, err := l.gw.Eval(ctx, ScriptIsMember, l.name, id)
	if err != nil {
		return false, err
	}
	member, err := parseFlag(ScriptIsMember, res, ok)
	if err != nil {
		return false, err
	}
	if !member {
		owner.forget(l.name)
	}
	return member, nil
}

// holdCount runs ScriptHoldCount once
func (l *DistributedLock) holdCount(ctx context.Context, owner *Owner) (int64, error) {
	id, cached := l.identifier(owner)
	if !cached {
		return 0, nil
	}
	res, ok, err := l.gw.Eval(ctx, ScriptHoldCount, l.name, id)
	if err != nil {
		return 0, err
	}
	if !ok {
		owner.forget(l.name)
		return 0, nil
	}
	count, err := parseCount(ScriptHoldCount, res, ok)
	if err != nil {
		return 0, err
	}
	if count < 0 {
		return 0, protocolError(ScriptHoldCount, res, ok)
	}
	return count, nil
}

// renew runs ScriptRenew once
func (l *DistributedLock) renew(ctx context.Context, owner *Owner, leaseMs int64) (bool, error) {
	id, cached := l.identifier(owner)
	if !cached {
		return false, nil
	}
	res, ok, err := l.gw.Eval(ctx, ScriptRenew, l.name, id, strconv.FormatInt(leaseMs, 10))
	if err != nil {
		return false, err
	}
	renewed, err := parseFlag(ScriptRenew, res, ok)
	if err != nil {
		return false, err
	}
	if renewed {
		l.ttl.Store(leaseMs)
	} else {
		owner.forget(l.name)
	}
	return renewed, nil
}

// --------------------------------------------------------------------------
// Result Parsing
// --------------------------------------------------------------------------

// parseFlag parses a "0"/"1" result
func parseFlag(s *Script, res string, ok bool) (bool, error) {
	if ok {
		switch res {
		case ResultTrue:
			return true, nil
		case ResultFalse:
			return false, nil
		}
	}
	return false, protocolError(s, res, ok)
}

// parseCount parses an integer result
func parseCount(s *Script, res string, ok bool) (int64, error) {
	if !ok {
		return 0, protocolError(s, res, ok)
	}
	n, err := strconv.ParseInt(res, 10, 64)
	if err != nil {
		return 0, protocolError(s, res, ok)
	}
	return n, nil
}

// leaseMillis converts a lease to milliseconds, rounding sub-millisecond leases up
func leaseMillis(lease time.Duration) (int64, error) {
	if lease <= 0 {
		return 0, ErrInvalidLease
	}
	ms := lease.Milliseconds()
	if ms == 0 {
		ms = 1
	}
	return ms, nil
}
