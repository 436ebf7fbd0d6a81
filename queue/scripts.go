package queue

import "github.com/redis/go-redis/v9"

// leaseScript promotes due delayed jobs, then moves the oldest waiting job to
// active under a fresh lease token.
//
// KEYS: wait, active, delayed, leases
// ARGV: now, leaseUntil, token, jobPrefix, promoteLimit
const leaseScript = `
local due = redis.call("ZRANGEBYSCORE", KEYS[3], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[5]))
for _, id in ipairs(due) do
  redis.call("ZREM", KEYS[3], id)
  if redis.call("EXISTS", ARGV[4] .. id) == 1 then
    redis.call("HSET", ARGV[4] .. id, "state", "waiting")
    redis.call("LPUSH", KEYS[1], id)
  end
end
while true do
  local id = redis.call("RPOP", KEYS[1])
  if not id then
    return false
  end
  local job_key = ARGV[4] .. id
  if redis.call("EXISTS", job_key) == 1 then
    redis.call("LPUSH", KEYS[2], id)
    redis.call("ZADD", KEYS[4], ARGV[2], id)
    redis.call("HSET", job_key, "state", "active", "token", ARGV[3], "startedAt", ARGV[1])
    return id
  end
end
`

// heartbeatScript extends a lease the caller still owns.
//
// KEYS: leases
// ARGV: id, token, jobPrefix, leaseUntil
const heartbeatScript = `
if redis.call("HGET", ARGV[3] .. ARGV[1], "token") ~= ARGV[2] then
  return 0
end
redis.call("ZADD", KEYS[1], ARGV[4], ARGV[1])
return 1
`

// finishScript moves an owned job to completed or failed and trims the
// retention list, deleting pruned job hashes.
//
// KEYS: active, leases, target
// ARGV: id, token, jobPrefix, now, state, lastError, keep
const finishScript = `
local job_key = ARGV[3] .. ARGV[1]
if redis.call("HGET", job_key, "token") ~= ARGV[2] then
  return 0
end
redis.call("LREM", KEYS[1], 0, ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("HINCRBY", job_key, "attemptsMade", 1)
redis.call("HSET", job_key, "state", ARGV[5], "token", "", "finishedAt", ARGV[4], "lastError", ARGV[6])
redis.call("LPUSH", KEYS[3], ARGV[1])
local keep = tonumber(ARGV[7])
if keep >= 0 then
  while redis.call("LLEN", KEYS[3]) > keep do
    local old = redis.call("RPOP", KEYS[3])
    redis.call("DEL", ARGV[3] .. old)
  end
end
return 1
`

// retryScript reschedules an owned job.
//
// KEYS: active, leases, delayed
// ARGV: id, token, jobPrefix, runAt, lastError
const retryScript = `
local job_key = ARGV[3] .. ARGV[1]
if redis.call("HGET", job_key, "token") ~= ARGV[2] then
  return 0
end
redis.call("LREM", KEYS[1], 0, ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("HINCRBY", job_key, "attemptsMade", 1)
redis.call("HSET", job_key, "state", "delayed", "token", "", "nextRunAt", ARGV[4], "lastError", ARGV[5])
redis.call("ZADD", KEYS[3], ARGV[4], ARGV[1])
return 1
`

// recoverStalledScript returns jobs with expired leases to the head of wait,
// or fails them once they stalled more than maxStalled times. Replies with a
// flat list of id, outcome pairs.
//
// KEYS: wait, active, leases, failed
// ARGV: now, jobPrefix, maxStalled, keepFailed, limit
const recoverStalledScript = `
local expired = redis.call("ZRANGEBYSCORE", KEYS[3], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[5]))
local out = {}
local keep = tonumber(ARGV[4])
for _, id in ipairs(expired) do
  redis.call("ZREM", KEYS[3], id)
  redis.call("LREM", KEYS[2], 0, id)
  local job_key = ARGV[2] .. id
  if redis.call("EXISTS", job_key) == 1 then
    local stalled = redis.call("HINCRBY", job_key, "stalledCount", 1)
    if stalled > tonumber(ARGV[3]) then
      redis.call("HSET", job_key, "state", "failed", "token", "", "finishedAt", ARGV[1],
        "lastError", "job stalled more than allowable limit")
      redis.call("LPUSH", KEYS[4], id)
      if keep >= 0 then
        while redis.call("LLEN", KEYS[4]) > keep do
          local old = redis.call("RPOP", KEYS[4])
          redis.call("DEL", ARGV[2] .. old)
        end
      end
      table.insert(out, id)
      table.insert(out, "failed")
    else
      redis.call("HSET", job_key, "state", "waiting", "token", "")
      redis.call("RPUSH", KEYS[1], id)
      table.insert(out, id)
      table.insert(out, "waiting")
    end
  end
end
return out
`

var (
	leaseLua          = redis.NewScript(leaseScript)
	heartbeatLua      = redis.NewScript(heartbeatScript)
	finishLua         = redis.NewScript(finishScript)
	retryLua          = redis.NewScript(retryScript)
	recoverStalledLua = redis.NewScript(recoverStalledScript)
)
