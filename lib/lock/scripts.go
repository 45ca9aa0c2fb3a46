package lock

import (
	"crypto/sha1"
	_ "embed"
	"encoding/hex"
)

// --------------------------------------------------------------------------
// Script Catalogue
// --------------------------------------------------------------------------

// Script is one atomic store operation.
//
// Stores that evaluate Lua run Body (or refer to it by Digest once it is loaded).
// Stores that implement the operations natively dispatch on Name or Digest.
type Script struct {
	Name   string // short, stable name (e.g. "acquire")
	Body   string // Lua source
	Digest string // lowercase hex SHA1 of Body, as used by EVALSHA
}

// String returns the script name
func (s *Script) String() string {
	return s.Name
}

var (
	//go:embed scripts/acquire.lua
	acquireLua string
	//go:embed scripts/release.lua
	releaseLua string
	//go:embed scripts/delete.lua
	deleteLua string
	//go:embed scripts/exists.lua
	existsLua string
	//go:embed scripts/is_member.lua
	isMemberLua string
	//go:embed scripts/hold_count.lua
	holdCountLua string
	//go:embed scripts/renew.lua
	renewLua string
)

var (
	// ScriptAcquire takes KEYS=[name] ARGV=[identifier, leaseMs].
	// Result: "OK" or the remaining TTL of the current holder in ms.
	ScriptAcquire = newScript("acquire", acquireLua)

	// ScriptRelease takes KEYS=[name] ARGV=[identifier, channel].
	// Result: remaining hold count, "0" when the record was deleted (and the
	// wake-up published), "-1" when the identifier is not the owner.
	ScriptRelease = newScript("release", releaseLua)

	// ScriptDelete takes KEYS=[name]. Result: "1" if a record was removed, else "0".
	ScriptDelete = newScript("delete", deleteLua)

	// ScriptExists takes KEYS=[name]. Result: "1" or "0".
	ScriptExists = newScript("exists", existsLua)

	// ScriptIsMember takes KEYS=[name] ARGV=[identifier]. Result: "1" or "0".
	ScriptIsMember = newScript("is_member", isMemberLua)

	// ScriptHoldCount takes KEYS=[name] ARGV=[identifier].
	// Result: the hold count, or nil when the identifier holds nothing.
	ScriptHoldCount = newScript("hold_count", holdCountLua)

	// ScriptRenew takes KEYS=[name] ARGV=[identifier, leaseMs]. Result: "1" or "0".
	ScriptRenew = newScript("renew", renewLua)
)

// Scripts returns every script of the catalogue
func Scripts() []*Script {
	return []*Script{
		ScriptAcquire,
		ScriptRelease,
		ScriptDelete,
		ScriptExists,
		ScriptIsMember,
		ScriptHoldCount,
		ScriptRenew,
	}
}

func newScript(name, body string) *Script {
	sum := sha1.Sum([]byte(body))
	return &Script{
		Name:   name,
		Body:   body,
		Digest: hex.EncodeToString(sum[:]),
	}
}

// --------------------------------------------------------------------------
// Wire Constants
// --------------------------------------------------------------------------

const (
	// ResultAcquired is returned by ScriptAcquire on success
	ResultAcquired = "OK"
	// ResultNotOwner is returned by ScriptRelease if the identifier holds nothing
	ResultNotOwner = "-1"
	// ResultTrue and ResultFalse are the flag results of the other scripts
	ResultTrue  = "1"
	ResultFalse = "0"

	// ChannelPrefix prefixes the name of every wake-up channel
	ChannelPrefix = "distbtsync_redis_lock_"
)

// ChannelName returns the wake-up channel for a lock name
func ChannelName(name string) string {
	return ChannelPrefix + name
}
