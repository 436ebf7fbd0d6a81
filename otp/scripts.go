package otp

import "github.com/redis/go-redis/v9"

const (
	reserveMissing int64 = 0
	reserveLocked  int64 = 1
	reserveOK      int64 = 2
)

// reserveAttemptScript returns {0} when no challenge exists, {1} when the
// attempt budget is spent, otherwise counts the attempt and returns
// {2, storedDigest}. The tries key always inherits the code's remaining TTL.
const reserveAttemptScript = `
local stored = redis.call("GET", KEYS[1])
if not stored then
  return {0}
end
local tries = tonumber(redis.call("GET", KEYS[2]) or "0")
if tries >= tonumber(ARGV[1]) then
  return {1}
end
redis.call("INCR", KEYS[2])
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return {2, stored}
`

// consumeScript deletes the challenge only if it still holds the digest the
// caller matched against.
const consumeScript = `
local stored = redis.call("GET", KEYS[1])
if not stored or stored ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1], KEYS[2])
return 1
`

var (
	reserveAttemptLua = redis.NewScript(reserveAttemptScript)
	consumeLua        = redis.NewScript(consumeScript)
)
